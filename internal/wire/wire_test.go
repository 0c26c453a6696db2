// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slurmctld/core/internal/bitmap"
	"github.com/slurmctld/core/internal/bus"
	"github.com/slurmctld/core/internal/types"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteUint8(0xAB)
	w.WriteUint16(0x1234)
	w.WriteUint32(0xDEADBEEF)
	w.WriteInt32(-42)
	w.WriteUint64(0x0102030405060708)
	w.WriteInt64(-9001)
	w.WriteFloat64(3.14159)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteString("hello, controller")
	w.WriteStringList([]string{"a", "bb", "ccc"})
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	u8, err := r.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)

	u16, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := r.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	i32, err := r.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i32)

	u64, err := r.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	i64, err := r.ReadInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(-9001), i64)

	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, f64, 1e-12)

	bTrue, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, bTrue)

	bFalse, err := r.ReadBool()
	require.NoError(t, err)
	assert.False(t, bFalse)

	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello, controller", s)

	ss, err := r.ReadStringList()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "bb", "ccc"}, ss)
}

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body, err := Marshal(func(w *Writer) { w.WriteString("payload") })
	require.NoError(t, err)

	require.NoError(t, WriteMessage(&buf, Message{
		Version: ProtocolVersion,
		Kind:    KindPing,
		Body:    body,
	}))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindPing, got.Kind)
	assert.Equal(t, body, got.Body)
}

func TestMessageEnvelopeRejectsVersionMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, Message{Version: ProtocolVersion + 1, Kind: KindPing}))
	_, err := ReadMessage(&buf)
	assert.Error(t, err)
}

func TestBitmapRoundTripMultiWordWithTailMask(t *testing.T) {
	s := bitmap.New(130) // spans 3 words, partial tail word
	for _, i := range []int{0, 1, 63, 64, 65, 127, 129} {
		s.Set(i)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	EncodeBitmap(w, s)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	got, err := DecodeBitmap(r)
	require.NoError(t, err)
	assert.True(t, s.Equal(got))
	assert.Equal(t, s.Slice(), got.Slice())
}

func TestBitmapRoundTripNil(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	EncodeBitmap(w, nil)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	got, err := DecodeBitmap(r)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Width())
	assert.True(t, got.IsEmpty())
}

func TestSubmitRequestRoundTrip(t *testing.T) {
	req := &types.Request{
		NumProcs:     16,
		NumNodes:     2,
		MaxNodes:     4,
		Features:     "gpu&fast",
		ReqNodes:     bitmap.FromSlice(8, []int{1, 3}),
		ExcNodes:     bitmap.FromSlice(8, []int{7}),
		Contiguous:   true,
		Shared:       types.SharedNo,
		MinProcs:     2,
		MinMemory:    4096,
		MinTmpDisk:   1024,
		MinOSVersion: "4.18",
		TimeLimit:    60,
		ProcsPerTask: 1,
		Distribution: types.DistCyclic,
		PlaneSize:    0,
	}

	body, err := EncodeSubmitRequest(42, 7, "batch", req)
	require.NoError(t, err)

	assocID, qosID, partition, got, err := DecodeSubmitRequest(body)
	require.NoError(t, err)
	assert.Equal(t, int32(42), assocID)
	assert.Equal(t, int32(7), qosID)
	assert.Equal(t, "batch", partition)
	assert.Equal(t, req.NumProcs, got.NumProcs)
	assert.Equal(t, req.Features, got.Features)
	assert.True(t, req.ReqNodes.Equal(got.ReqNodes))
	assert.True(t, req.ExcNodes.Equal(got.ExcNodes))
	assert.Equal(t, req.Contiguous, got.Contiguous)
	assert.Equal(t, req.Shared, got.Shared)
	assert.Equal(t, req.MinOSVersion, got.MinOSVersion)
	assert.Equal(t, req.Distribution, got.Distribution)
}

func TestOptionalStringDistinguishesAbsentFromEmpty(t *testing.T) {
	empty := ""
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteOptionalString(nil)
	w.WriteOptionalString(&empty)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	absent, err := r.ReadOptionalString()
	require.NoError(t, err)
	assert.Nil(t, absent)

	present, err := r.ReadOptionalString()
	require.NoError(t, err)
	require.NotNil(t, present)
	assert.Equal(t, "", *present)
}

func TestRecordUpdatesRoundTrip(t *testing.T) {
	updates := []RecordUpdate{
		{Kind: RecordJobStart, Payloads: [][]byte{{1, 2, 3}, {4}}},
		{Kind: RecordModifyAssoc, Payloads: [][]byte{{9, 9}}},
	}
	body, err := EncodeRecordUpdates(updates)
	require.NoError(t, err)

	got, skipped, err := DecodeRecordUpdates(body)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, updates, got)
}

func TestRecordUpdatesSkipUnknownKind(t *testing.T) {
	// Hand-build a batch carrying a kind from a future protocol version
	// between two known ones; the decoder must skip it by its length
	// prefix and still return both known updates.
	frame := func(payloads [][]byte) []byte {
		b, err := Marshal(func(w *Writer) {
			w.WriteUint32(uint32(len(payloads)))
			for _, p := range payloads {
				w.WriteBytes(p)
			}
		})
		require.NoError(t, err)
		return b
	}
	body, err := Marshal(func(w *Writer) {
		w.WriteUint16(ProtocolVersion)
		w.WriteUint32(3)
		w.WriteUint16(uint16(RecordAddUser))
		w.WriteBytes(frame([][]byte{{1}}))
		w.WriteUint16(uint16(recordKindMax) + 40)
		w.WriteBytes([]byte{0xFF, 0xFE, 0xFD}) // opaque future frame
		w.WriteUint16(uint16(RecordRemoveQoS))
		w.WriteBytes(frame([][]byte{{2}}))
	})
	require.NoError(t, err)

	got, skipped, err := DecodeRecordUpdates(body)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, got, 2)
	assert.Equal(t, RecordAddUser, got[0].Kind)
	assert.Equal(t, RecordRemoveQoS, got[1].Kind)
}

func TestJobSnapshotRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	snap := types.JobSnapshot{
		JobID:       101,
		Name:        "sim",
		AssocID:     5,
		QoSID:       1,
		Partition:   "gpu",
		State:       types.JobRunning,
		StateReason: "",
		Priority:    999,
		NumProcs:    32,
		NumNodes:    2,
		SubmitTime:  now,
		StartTime:   now.Add(time.Minute),
		EndTime:     now.Add(time.Hour),
		NodeList:    []int{2, 3},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	EncodeJobSnapshot(w, snap)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	got, err := DecodeJobSnapshot(r)
	require.NoError(t, err)
	assert.Equal(t, snap.JobID, got.JobID)
	assert.Equal(t, snap.Name, got.Name)
	assert.Equal(t, snap.State, got.State)
	assert.Equal(t, snap.SubmitTime, got.SubmitTime)
	assert.Equal(t, snap.NodeList, got.NodeList)
}

func TestGenericReplyRoundTrip(t *testing.T) {
	body, err := EncodeGenericReply(Err("E_PERM", "not authorized"))
	require.NoError(t, err)

	got, err := DecodeGenericReply(body)
	require.NoError(t, err)
	assert.False(t, got.OK)
	assert.Equal(t, "E_PERM", got.ErrorCode)
	assert.Equal(t, "not authorized", got.ErrorDetail)
}

func TestCancelRequestRoundTrip(t *testing.T) {
	body, err := EncodeCancelRequest(CancelRequest{JobID: 55, Signal: 9})
	require.NoError(t, err)

	got, err := DecodeCancelRequest(body)
	require.NoError(t, err)
	assert.Equal(t, int64(55), got.JobID)
	assert.Equal(t, int32(9), got.Signal)
}

func TestUpdateObjectRoundTripJobNew(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	u := bus.UpdateObject{
		Kind:      bus.KindJobNew,
		Key:       "101",
		Timestamp: now,
		Payload: types.JobSnapshot{
			JobID: 101,
			Name:  "sim",
			State: types.JobPending,
		},
	}

	body, err := EncodeUpdateObject(u)
	require.NoError(t, err)

	got, err := DecodeUpdateObject(body)
	require.NoError(t, err)
	assert.Equal(t, u.Kind, got.Kind)
	assert.Equal(t, u.Key, got.Key)
	assert.Equal(t, u.Timestamp, got.Timestamp)

	snap, ok := got.Payload.(types.JobSnapshot)
	require.True(t, ok)
	assert.Equal(t, int64(101), snap.JobID)
	assert.Equal(t, "sim", snap.Name)
}

func TestUpdateObjectRoundTripJobState(t *testing.T) {
	u := bus.UpdateObject{
		Kind:      bus.KindJobState,
		Key:       "7",
		Timestamp: time.Unix(1, 0).UTC(),
		Payload:   types.JobRunning,
	}

	body, err := EncodeUpdateObject(u)
	require.NoError(t, err)

	got, err := DecodeUpdateObject(body)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, got.Payload)
}

func TestUpdateObjectRoundTripNoPayloadKind(t *testing.T) {
	u := bus.UpdateObject{
		Kind:      bus.KindJobRemoved,
		Key:       "9",
		Timestamp: time.Unix(2, 0).UTC(),
	}

	body, err := EncodeUpdateObject(u)
	require.NoError(t, err)

	got, err := DecodeUpdateObject(body)
	require.NoError(t, err)
	assert.Equal(t, u.Kind, got.Kind)
	assert.Equal(t, u.Key, got.Key)
	assert.Nil(t, got.Payload)
}

func TestUpdateObjectRejectsUnknownKind(t *testing.T) {
	_, err := EncodeUpdateObject(bus.UpdateObject{Kind: bus.Kind("bogus")})
	assert.Error(t, err)
}

func TestDecodeBytesRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteUint32(maxStringLen + 1)
	require.NoError(t, w.Flush())

	r := NewReader(&buf)
	_, err := r.ReadBytes()
	assert.Error(t, err)
}
