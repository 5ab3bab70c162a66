// Package p2p implements the gossip layer: the command-id message codec,
// the connected-peer book, and WebSocket fan-out of transactions and
// blocks.
package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sparqnet/go-sparq/core/types"
)

// Command is the 2-byte ASCII-hex identifier leading every message.
type Command string

const (
	CmdInfo                         Command = "0000"
	CmdSendTransaction              Command = "0001"
	CmdSendBulkTransaction          Command = "0002"
	CmdRequestBlockByNumber         Command = "0003"
	CmdRequestBlockByHash           Command = "0004"
	CmdRequestBlockRange            Command = "0005"
	CmdNewBestBlock                 Command = "0006"
	CmdSendValidatorTransaction     Command = "0007"
	CmdSendBulkValidatorTransaction Command = "0008"
)

// cmdLen is the encoded length of a command id.
const cmdLen = 4

var (
	// ErrUnknownCommand is returned for unrecognized command ids.
	ErrUnknownCommand = errors.New("p2p: unknown command")
	// ErrShortMessage is returned for messages shorter than a command id
	// or a truncated payload.
	ErrShortMessage = errors.New("p2p: message too short")
)

var knownCommands = map[Command]struct{}{
	CmdInfo: {}, CmdSendTransaction: {}, CmdSendBulkTransaction: {},
	CmdRequestBlockByNumber: {}, CmdRequestBlockByHash: {},
	CmdRequestBlockRange: {}, CmdNewBestBlock: {},
	CmdSendValidatorTransaction: {}, CmdSendBulkValidatorTransaction: {},
}

// SplitMessage separates the command id from the payload.
func SplitMessage(msg []byte) (Command, []byte, error) {
	if len(msg) < cmdLen {
		return "", nil, ErrShortMessage
	}
	cmd := Command(msg[:cmdLen])
	if _, ok := knownCommands[cmd]; !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd))
	}
	return cmd, msg[cmdLen:], nil
}

func encode(cmd Command, payload ...[]byte) []byte {
	size := cmdLen
	for _, p := range payload {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, cmd...)
	for _, p := range payload {
		out = append(out, p...)
	}
	return out
}

func u64bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// EncodeSendTransaction frames a sendTransaction message.
func EncodeSendTransaction(txBytes []byte) []byte {
	return encode(CmdSendTransaction, txBytes)
}

// EncodeSendValidatorTransaction frames a sendValidatorTransaction message.
func EncodeSendValidatorTransaction(txBytes []byte) []byte {
	return encode(CmdSendValidatorTransaction, txBytes)
}

// EncodeBulkTransactions frames a sendBulkTransaction message: a sequence
// of (u64 length, tx bytes) pairs.
func EncodeBulkTransactions(txs [][]byte) []byte {
	out := []byte(CmdSendBulkTransaction)
	for _, tx := range txs {
		out = append(out, u64bytes(uint64(len(tx)))...)
		out = append(out, tx...)
	}
	return out
}

// EncodeBulkValidatorTransactions frames a sendBulkValidatorTransaction
// message.
func EncodeBulkValidatorTransactions(txs [][]byte) []byte {
	out := []byte(CmdSendBulkValidatorTransaction)
	for _, tx := range txs {
		out = append(out, u64bytes(uint64(len(tx)))...)
		out = append(out, tx...)
	}
	return out
}

// DecodeBulkPayload splits a bulk payload back into transaction byte
// strings.
func DecodeBulkPayload(payload []byte) ([][]byte, error) {
	var out [][]byte
	for len(payload) > 0 {
		if len(payload) < 8 {
			return nil, ErrShortMessage
		}
		size := binary.BigEndian.Uint64(payload[:8])
		payload = payload[8:]
		if uint64(len(payload)) < size {
			return nil, ErrShortMessage
		}
		out = append(out, payload[:size])
		payload = payload[size:]
	}
	return out, nil
}

// EncodeRequestBlockByNumber frames a height request.
func EncodeRequestBlockByNumber(height uint64) []byte {
	return encode(CmdRequestBlockByNumber, u64bytes(height))
}

// DecodeRequestBlockByNumber parses a height request payload.
func DecodeRequestBlockByNumber(payload []byte) (uint64, error) {
	if len(payload) < 8 {
		return 0, ErrShortMessage
	}
	return binary.BigEndian.Uint64(payload[:8]), nil
}

// EncodeRequestBlockByHash frames a hash request; the hash travels as a
// 32-byte big-endian word.
func EncodeRequestBlockByHash(hash types.Hash) []byte {
	return encode(CmdRequestBlockByHash, hash.Bytes())
}

// DecodeRequestBlockByHash parses a hash request payload.
func DecodeRequestBlockByHash(payload []byte) (types.Hash, error) {
	if len(payload) < types.HashLength {
		return types.Hash{}, ErrShortMessage
	}
	return types.BytesToHash(payload[:types.HashLength]), nil
}

// EncodeRequestBlockRange frames a [start, end] height range request.
func EncodeRequestBlockRange(start, end uint64) []byte {
	return encode(CmdRequestBlockRange, u64bytes(start), u64bytes(end))
}

// DecodeRequestBlockRange parses a range request payload.
func DecodeRequestBlockRange(payload []byte) (start, end uint64, err error) {
	if len(payload) < 16 {
		return 0, 0, ErrShortMessage
	}
	return binary.BigEndian.Uint64(payload[:8]), binary.BigEndian.Uint64(payload[8:16]), nil
}

// EncodeNewBestBlock frames a newBestBlock announcement.
func EncodeNewBestBlock(blockBytes []byte) []byte {
	return encode(CmdNewBestBlock, blockBytes)
}

// InfoResponse is the reply to an info message.
type InfoResponse struct {
	Version  []byte
	EpochUs  uint64 // sender wall clock, unix microseconds
	Height   uint64
	BestHash types.Hash
	Peers    []byte
}

// Encode frames the info response: version || epoch || height || bestHash
// || peerList.
func (r *InfoResponse) Encode() []byte {
	out := append([]byte(nil), r.Version...)
	out = append(out, u64bytes(r.EpochUs)...)
	out = append(out, u64bytes(r.Height)...)
	out = append(out, r.BestHash.Bytes()...)
	return append(out, r.Peers...)
}
