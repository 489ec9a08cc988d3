package reqresp

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang/snappy"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pkg/errors"

	"github.com/geanlabs/beaconchain/types"
)

const (
	ReadTimeout  = 10 * time.Second
	WriteTimeout = 10 * time.Second
	MaxMsgSize   = 10 * 1024 * 1024 // 10MB
)

// Response codes.
const (
	RespCodeSuccess     byte = 0x00
	RespCodeInvalidReq  byte = 0x01
	RespCodeServerError byte = 0x02
)

var ErrMessageTooLarge = errors.New("message too large")

// ResponseError is a non-success response from a peer.
type ResponseError struct {
	Code    byte
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("peer returned error code %d: %s", e.Code, e.Message)
}

// StreamHandler manages request/response protocol streams.
type StreamHandler struct {
	host    host.Host
	handler *Handler
	logger  *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(h host.Host, handler *Handler, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{host: h, handler: handler, logger: logger}
}

// RegisterProtocols registers all request/response protocol handlers.
func (s *StreamHandler) RegisterProtocols() {
	s.host.SetStreamHandler(protocol.ID(StatusProtocolV1), s.handleStatusStream)
	s.host.SetStreamHandler(protocol.ID(BlocksByRootProtocolV1), s.handleBlocksByRootStream)
}

func (s *StreamHandler) handleStatusStream(stream network.Stream) {
	defer stream.Close()
	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))

	data, err := readMessage(bufio.NewReader(stream))
	if err != nil {
		s.logger.Debug("status request unreadable", "peer", stream.Conn().RemotePeer(), "error", err)
		_ = writeErrorResponse(stream, RespCodeInvalidReq, err)
		return
	}
	var peerStatus Status
	if err := peerStatus.UnmarshalSSZ(data); err != nil {
		_ = writeErrorResponse(stream, RespCodeInvalidReq, err)
		return
	}

	ourStatus, err := s.handler.GetStatus()
	if err != nil {
		s.logger.Warn("status unavailable", "error", err)
		_ = writeErrorResponse(stream, RespCodeServerError, err)
		return
	}
	respData, err := ourStatus.MarshalSSZ()
	if err != nil {
		_ = writeErrorResponse(stream, RespCodeServerError, err)
		return
	}

	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeSuccessResponse(stream, respData); err != nil {
		s.logger.Debug("status response failed", "peer", stream.Conn().RemotePeer(), "error", err)
	}
}

func (s *StreamHandler) handleBlocksByRootStream(stream network.Stream) {
	defer stream.Close()
	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))

	data, err := readMessage(bufio.NewReader(stream))
	if err != nil {
		_ = writeErrorResponse(stream, RespCodeInvalidReq, err)
		return
	}
	var request BlocksByRootRequest
	if err := request.UnmarshalSSZ(data); err != nil {
		_ = writeErrorResponse(stream, RespCodeInvalidReq, err)
		return
	}

	blocks, err := s.handler.HandleBlocksByRoot(&request)
	if err != nil {
		s.logger.Warn("blocks by root failed", "error", err)
		_ = writeErrorResponse(stream, RespCodeServerError, err)
		return
	}

	// One response chunk per block.
	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	for _, block := range blocks {
		blockData, err := types.MarshalTaggedBlock(block)
		if err != nil {
			s.logger.Warn("encode block", "slot", block.GetSlot(), "error", err)
			continue
		}
		if err := writeSuccessResponse(stream, blockData); err != nil {
			s.logger.Debug("blocks by root response failed", "peer", stream.Conn().RemotePeer(), "error", err)
			return
		}
	}
}

// SendStatus sends a Status request to a peer and returns their status.
func (s *StreamHandler) SendStatus(ctx context.Context, peerID peer.ID, status *Status) (*Status, error) {
	data, err := status.MarshalSSZ()
	if err != nil {
		return nil, errors.Wrap(err, "marshal status")
	}
	stream, err := s.request(ctx, peerID, StatusProtocolV1, data)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))
	respData, err := readResponse(bufio.NewReader(stream))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	var peerStatus Status
	if err := peerStatus.UnmarshalSSZ(respData); err != nil {
		return nil, errors.Wrap(err, "unmarshal status")
	}
	return &peerStatus, nil
}

// RequestBlocksByRoot requests blocks from a peer by their roots. Chunks
// that fail to decode are skipped.
func (s *StreamHandler) RequestBlocksByRoot(ctx context.Context, peerID peer.ID, roots []types.Root) ([]types.BeaconBlock, error) {
	request := &BlocksByRootRequest{Roots: roots}
	data, err := request.MarshalSSZ()
	if err != nil {
		return nil, err
	}
	stream, err := s.request(ctx, peerID, BlocksByRootProtocolV1, data)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	_ = stream.SetReadDeadline(time.Now().Add(ReadTimeout))
	r := bufio.NewReader(stream)
	var blocks []types.BeaconBlock
	for {
		respData, err := readResponse(r)
		if errors.Is(err, io.EOF) {
			return blocks, nil
		}
		if err != nil {
			return blocks, errors.Wrap(err, "read response")
		}
		block, err := types.UnmarshalTaggedBlock(respData)
		if err != nil {
			s.logger.Debug("undecodable block chunk", "peer", peerID, "error", err)
			continue
		}
		blocks = append(blocks, block)
	}
}

func (s *StreamHandler) request(ctx context.Context, peerID peer.ID, proto string, data []byte) (network.Stream, error) {
	stream, err := s.host.NewStream(ctx, peerID, protocol.ID(proto))
	if err != nil {
		return nil, errors.Wrap(err, "open stream")
	}
	_ = stream.SetWriteDeadline(time.Now().Add(WriteTimeout))
	if err := writeMessage(stream, data); err != nil {
		_ = stream.Reset()
		return nil, errors.Wrap(err, "write request")
	}
	// Close write side to signal end of request.
	if err := stream.CloseWrite(); err != nil {
		_ = stream.Reset()
		return nil, errors.Wrap(err, "close write")
	}
	return stream, nil
}

// Framing: uvarint length of the uncompressed payload, then the payload as
// a snappy framed stream.

func readMessage(r *bufio.Reader) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > MaxMsgSize {
		return nil, errors.Wrapf(ErrMessageTooLarge, "%d bytes", size)
	}
	data := make([]byte, size)
	if size == 0 {
		return data, nil
	}
	if _, err := io.ReadFull(snappy.NewReader(r), data); err != nil {
		return nil, errors.Wrap(err, "snappy frame")
	}
	return data, nil
}

func writeMessage(w io.Writer, data []byte) error {
	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(data)))
	if _, err := w.Write(prefix[:n]); err != nil {
		return err
	}
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(data); err != nil {
		return err
	}
	return sw.Close()
}

// readResponse reads a response code followed by its message. A non-success
// code is returned as a *ResponseError.
func readResponse(r *bufio.Reader) ([]byte, error) {
	code, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	data, err := readMessage(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	if code != RespCodeSuccess {
		return nil, &ResponseError{Code: code, Message: string(data)}
	}
	return data, nil
}

func writeSuccessResponse(w io.Writer, data []byte) error {
	if _, err := w.Write([]byte{RespCodeSuccess}); err != nil {
		return err
	}
	return writeMessage(w, data)
}

func writeErrorResponse(w io.Writer, code byte, cause error) error {
	if _, err := w.Write([]byte{code}); err != nil {
		return err
	}
	return writeMessage(w, []byte(cause.Error()))
}
