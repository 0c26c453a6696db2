// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wire

import "bytes"

// SubmitReply is the body of a KindSubmitJobReply message.
type SubmitReply struct {
	OK          bool
	JobID       int64
	ErrorCode   string
	ErrorDetail string
}

// EncodeSubmitReply serializes a SubmitReply body.
func EncodeSubmitReply(r SubmitReply) ([]byte, error) {
	return Marshal(func(w *Writer) {
		w.WriteBool(r.OK)
		w.WriteInt64(r.JobID)
		w.WriteString(r.ErrorCode)
		w.WriteString(r.ErrorDetail)
	})
}

// DecodeSubmitReply is the inverse of EncodeSubmitReply.
func DecodeSubmitReply(body []byte) (SubmitReply, error) {
	var r SubmitReply
	rr := NewReader(bytes.NewReader(body))
	var err error
	if r.OK, err = rr.ReadBool(); err != nil {
		return r, err
	}
	if r.JobID, err = rr.ReadInt64(); err != nil {
		return r, err
	}
	if r.ErrorCode, err = rr.ReadString(); err != nil {
		return r, err
	}
	r.ErrorDetail, err = rr.ReadString()
	return r, err
}

// CancelRequest is the body of a KindCancelJobRequest message.
type CancelRequest struct {
	JobID  int64
	Signal int32 // 0 means the default terminate signal
}

// EncodeCancelRequest serializes a CancelRequest body.
func EncodeCancelRequest(r CancelRequest) ([]byte, error) {
	return Marshal(func(w *Writer) {
		w.WriteInt64(r.JobID)
		w.WriteInt32(r.Signal)
	})
}

// DecodeCancelRequest is the inverse of EncodeCancelRequest.
func DecodeCancelRequest(body []byte) (CancelRequest, error) {
	var r CancelRequest
	rr := NewReader(bytes.NewReader(body))
	var err error
	if r.JobID, err = rr.ReadInt64(); err != nil {
		return r, err
	}
	r.Signal, err = rr.ReadInt32()
	return r, err
}

// GenericReply is the body of a KindGenericReply message, used by every
// RPC that has no payload of its own beyond success/failure.
type GenericReply struct {
	OK          bool
	ErrorCode   string
	ErrorDetail string
}

// EncodeGenericReply serializes a GenericReply body.
func EncodeGenericReply(r GenericReply) ([]byte, error) {
	return Marshal(func(w *Writer) {
		w.WriteBool(r.OK)
		w.WriteString(r.ErrorCode)
		w.WriteString(r.ErrorDetail)
	})
}

// DecodeGenericReply is the inverse of EncodeGenericReply.
func DecodeGenericReply(body []byte) (GenericReply, error) {
	var r GenericReply
	rr := NewReader(bytes.NewReader(body))
	var err error
	if r.OK, err = rr.ReadBool(); err != nil {
		return r, err
	}
	if r.ErrorCode, err = rr.ReadString(); err != nil {
		return r, err
	}
	r.ErrorDetail, err = rr.ReadString()
	return r, err
}

// Ok builds a successful GenericReply.
func Ok() GenericReply { return GenericReply{OK: true} }

// Err builds a failed GenericReply from a code/detail pair.
func Err(code, detail string) GenericReply {
	return GenericReply{OK: false, ErrorCode: code, ErrorDetail: detail}
}
