package p2p

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sparqnet/go-sparq/core/types"
)

func TestSplitMessage(t *testing.T) {
	cmd, payload, err := SplitMessage(EncodeSendTransaction([]byte{0xca, 0xfe}))
	if err != nil {
		t.Fatal(err)
	}
	if cmd != CmdSendTransaction {
		t.Fatalf("cmd = %s", cmd)
	}
	if !bytes.Equal(payload, []byte{0xca, 0xfe}) {
		t.Fatalf("payload = %x", payload)
	}
}

func TestSplitMessageErrors(t *testing.T) {
	if _, _, err := SplitMessage([]byte("00")); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("err = %v, want ErrShortMessage", err)
	}
	if _, _, err := SplitMessage([]byte("ffff-payload")); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("err = %v, want ErrUnknownCommand", err)
	}
}

func TestBulkRoundTrip(t *testing.T) {
	txs := [][]byte{{0x01}, {0x02, 0x03}, {}}
	msg := EncodeBulkTransactions(txs)
	cmd, payload, err := SplitMessage(msg)
	if err != nil || cmd != CmdSendBulkTransaction {
		t.Fatalf("cmd = %s, err = %v", cmd, err)
	}
	got, err := DecodeBulkPayload(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries", len(got))
	}
	for i := range txs {
		if !bytes.Equal(got[i], txs[i]) {
			t.Fatalf("entry %d mismatch", i)
		}
	}
}

func TestBulkTruncated(t *testing.T) {
	msg := EncodeBulkTransactions([][]byte{{0x01, 0x02}})
	_, payload, _ := SplitMessage(msg)
	if _, err := DecodeBulkPayload(payload[:len(payload)-1]); !errors.Is(err, ErrShortMessage) {
		t.Fatalf("err = %v, want ErrShortMessage", err)
	}
}

func TestRequestRoundTrips(t *testing.T) {
	_, payload, _ := SplitMessage(EncodeRequestBlockByNumber(42))
	if h, err := DecodeRequestBlockByNumber(payload); err != nil || h != 42 {
		t.Fatalf("height = %d, err = %v", h, err)
	}

	hash := types.HexToHash("0xabcdef")
	_, payload, _ = SplitMessage(EncodeRequestBlockByHash(hash))
	if got, err := DecodeRequestBlockByHash(payload); err != nil || got != hash {
		t.Fatalf("hash = %s, err = %v", got, err)
	}

	_, payload, _ = SplitMessage(EncodeRequestBlockRange(5, 9))
	start, end, err := DecodeRequestBlockRange(payload)
	if err != nil || start != 5 || end != 9 {
		t.Fatalf("range = [%d, %d], err = %v", start, end, err)
	}
}

func TestInfoResponseLayout(t *testing.T) {
	info := InfoResponse{
		Version:  []byte("v1"),
		EpochUs:  1_000_000,
		Height:   7,
		BestHash: types.HexToHash("0x42"),
		Peers:    []byte("peerlist"),
	}
	enc := info.Encode()

	// version || epoch(8) || height(8) || bestHash(32) || peers
	if !bytes.HasPrefix(enc, []byte("v1")) {
		t.Fatal("version must lead")
	}
	rest := enc[2:]
	if len(rest) != 8+8+32+len("peerlist") {
		t.Fatalf("layout size = %d", len(rest))
	}
	if rest[5] != 0x0f || rest[6] != 0x42 || rest[7] != 0x40 { // 1_000_000 = 0x0F4240
		t.Fatalf("epoch encoding wrong: %x", rest[:8])
	}
	if rest[15] != 7 {
		t.Fatalf("height encoding wrong: %x", rest[8:16])
	}
	if !bytes.HasSuffix(enc, []byte("peerlist")) {
		t.Fatal("peer list must trail")
	}
}

func TestPeerSetBook(t *testing.T) {
	ps := NewPeerSet()
	if ps.Len() != 0 {
		t.Fatal("fresh book must be empty")
	}
	ps.Add(&Peer{id: "a"})
	ps.Add(&Peer{id: "b"})
	if ps.Len() != 2 {
		t.Fatalf("len = %d", ps.Len())
	}
	if _, ok := ps.Get("a"); !ok {
		t.Fatal("peer a missing")
	}
	ps.Remove("a")
	if _, ok := ps.Get("a"); ok {
		t.Fatal("peer a must be gone")
	}
	if ps.Len() != 1 {
		t.Fatalf("len = %d", ps.Len())
	}
}
