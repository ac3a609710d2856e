package bmp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ReadMessage reads one complete BMP message from src: the 6-byte common
// header followed by its length-delimited body. It blocks until the full
// frame is available or the read fails.
//
// A clean disconnect at a message boundary (zero bytes read before EOF)
// returns io.EOF unwrapped, so callers can distinguish it from a
// TruncatedError, which means bytes belonging to a message were lost mid
// read. The returned body slice is freshly allocated and safe to retain
// past the next call.
func ReadMessage(src io.Reader) (header CommonHeader, body []byte, err error) {
	hdrBuf := make([]byte, CommonHeaderSize)
	if n, err := io.ReadFull(src, hdrBuf); err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return CommonHeader{}, nil, io.EOF
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return CommonHeader{}, nil, &TruncatedError{Detail: "unable to read common header"}
		}
		return CommonHeader{}, nil, fmt.Errorf("bmp: reading common header: %w", err)
	}

	header, err = DecodeCommonHeader(hdrBuf)
	if err != nil {
		return CommonHeader{}, nil, err
	}

	bodyLen := int(header.MsgLength) - CommonHeaderSize
	if bodyLen == 0 {
		return header, nil, nil
	}

	body = make([]byte, bodyLen)
	if _, err := io.ReadFull(src, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return CommonHeader{}, nil, &TruncatedError{Detail: "unable to read message body"}
		}
		return CommonHeader{}, nil, fmt.Errorf("bmp: reading message body: %w", err)
	}

	return header, body, nil
}

// DecodeCommonHeader decodes the 6-byte fixed BMP header (spec §4.1).
// It rejects an unsupported version byte and an implausible declared
// length before the caller attempts to size a body read.
func DecodeCommonHeader(data []byte) (CommonHeader, error) {
	if len(data) < CommonHeaderSize {
		return CommonHeader{}, &MalformedError{Detail: fmt.Sprintf("common header too short (%d bytes)", len(data))}
	}

	version := data[0]
	if version != BMPVersion {
		return CommonHeader{}, &MalformedError{Detail: fmt.Sprintf("unsupported version %d (expected %d)", version, BMPVersion)}
	}

	msgLength := binary.BigEndian.Uint32(data[1:5])
	msgType := data[5]

	if msgLength < uint32(CommonHeaderSize) {
		return CommonHeader{}, &MalformedError{Detail: fmt.Sprintf("declared length %d smaller than header size %d", msgLength, CommonHeaderSize)}
	}
	if msgLength-uint32(CommonHeaderSize) > uint32(BMPPacketBufSize) {
		return CommonHeader{}, &MalformedError{Detail: fmt.Sprintf("body length %d exceeds max %d", msgLength-uint32(CommonHeaderSize), BMPPacketBufSize)}
	}

	return CommonHeader{Version: version, MsgLength: msgLength, MsgType: msgType}, nil
}
