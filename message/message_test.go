package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"meshchat/crypto"
)

var (
	peerA = crypto.PeerID{0xA0, 1, 2, 3, 4, 5, 6, 7}
	peerB = crypto.PeerID{0xB0, 1, 2, 3, 4, 5, 6, 7}
)

// TestStatusMonotonicity walks the Sent -> Delivered -> Read progression
// and verifies duplicate receipts neither regress status nor double count.
func TestStatusMonotonicity(t *testing.T) {
	msg := New("m1", peerA, "alice", "hi", true)
	if msg.Status != StatusSent {
		t.Fatalf("new message status = %v, want sent", msg.Status)
	}

	delivered := msg.ApplyReceipt(peerB, ReceiptDelivered)
	if delivered.Status != StatusDelivered {
		t.Errorf("after delivery receipt status = %v, want delivered", delivered.Status)
	}
	if len(delivered.DeliveredTo) != 1 || !delivered.DeliveredTo.Contains(peerB) {
		t.Errorf("DeliveredTo = %v, want {peerB}", delivered.DeliveredTo)
	}

	read := delivered.ApplyReceipt(peerB, ReceiptRead)
	if read.Status != StatusRead {
		t.Errorf("after read receipt status = %v, want read", read.Status)
	}

	again := read.ApplyReceipt(peerB, ReceiptDelivered)
	if again.Status != StatusRead {
		t.Errorf("duplicate delivery receipt regressed status to %v", again.Status)
	}
	if len(again.DeliveredTo) != 1 {
		t.Errorf("duplicate receipt changed DeliveredTo: %v", again.DeliveredTo)
	}
}

// TestReadImpliesDelivered verifies the documented policy: a read receipt
// from a peer that never sent a delivery receipt inserts it into both sets.
func TestReadImpliesDelivered(t *testing.T) {
	msg := New("m1", peerA, "alice", "hi", true)

	read := msg.ApplyReceipt(peerB, ReceiptRead)
	if read.Status != StatusRead {
		t.Errorf("status = %v, want read", read.Status)
	}
	if !read.ReadBy.Contains(peerB) {
		t.Error("ReadBy missing the reading peer")
	}
	if !read.DeliveredTo.Contains(peerB) {
		t.Error("read receipt did not imply delivery membership")
	}
	if !read.IsDelivered() {
		t.Error("IsDelivered should be true once read")
	}
}

// TestApplyReceiptImmutable verifies the original value is untouched.
func TestApplyReceiptImmutable(t *testing.T) {
	msg := New("m1", peerA, "alice", "hi", true)
	updated := msg.ApplyReceipt(peerB, ReceiptDelivered)

	if msg.Status != StatusSent || len(msg.DeliveredTo) != 0 {
		t.Error("ApplyReceipt mutated the original message")
	}
	if updated.Status != StatusDelivered {
		t.Error("ApplyReceipt did not produce the updated copy")
	}
}

// TestIdempotentAcrossPeers verifies receipts from different peers
// accumulate while duplicates from the same peer do not.
func TestIdempotentAcrossPeers(t *testing.T) {
	msg := New("m1", peerA, "alice", "hi", true)

	msg = msg.ApplyReceipt(peerB, ReceiptDelivered)
	msg = msg.ApplyReceipt(peerB, ReceiptDelivered)
	other := crypto.PeerID{0xC0, 1, 2, 3, 4, 5, 6, 7}
	msg = msg.ApplyReceipt(other, ReceiptDelivered)

	if len(msg.DeliveredTo) != 2 {
		t.Errorf("DeliveredTo has %d members, want 2", len(msg.DeliveredTo))
	}
}

// TestJSONRoundTrip verifies the persisted form and that the member sets
// never survive serialization.
func TestJSONRoundTrip(t *testing.T) {
	msg := New("m1", peerA, "alice", "hello world", true)
	msg = msg.ApplyReceipt(peerB, ReceiptRead)

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("persisted form is not valid JSON: %v", err)
	}
	for _, field := range []string{"id", "sender", "senderName", "text", "timestamp", "isLocal", "status"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("persisted form missing field %q", field)
		}
	}
	if _, ok := raw["deliveredTo"]; ok {
		t.Error("deliveredTo must not be serialized")
	}
	if _, ok := raw["readBy"]; ok {
		t.Error("readBy must not be serialized")
	}
	if raw["sender"] != peerA.String() {
		t.Errorf("sender = %v, want %v", raw["sender"], peerA.String())
	}
	if raw["status"] != "read" {
		t.Errorf("status = %v, want read", raw["status"])
	}

	loaded, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if loaded.ID != msg.ID || loaded.Text != msg.Text || loaded.Sender != msg.Sender {
		t.Error("reloaded message differs from original")
	}
	if loaded.Status != StatusRead {
		t.Errorf("reloaded status = %v, want read (persisted status is kept)", loaded.Status)
	}
	if len(loaded.DeliveredTo) != 0 || len(loaded.ReadBy) != 0 {
		t.Error("member sets must reload empty")
	}
	if !loaded.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp drifted: %v vs %v", loaded.Timestamp, msg.Timestamp)
	}
}

// TestFromJSONRejectsCorrupt covers the structural faults a stored record
// can carry: missing field, bad hex, bad status name, malformed timestamp.
func TestFromJSONRejectsCorrupt(t *testing.T) {
	valid := `{"id":"m1","sender":"a001020304050607","senderName":"alice","text":"hi","timestamp":"2026-08-28T10:00:00Z","isLocal":true,"status":"sent"}`

	cases := []struct {
		name   string
		record string
	}{
		{"not json", `{{{`},
		{"missing id", strings.Replace(valid, `"id":"m1",`, ``, 1)},
		{"bad sender hex", strings.Replace(valid, "a001020304050607", "zz01020304050607", 1)},
		{"short sender", strings.Replace(valid, "a001020304050607", "a001", 1)},
		{"bad status", strings.Replace(valid, `"status":"sent"`, `"status":"teleported"`, 1)},
		{"bad timestamp", strings.Replace(valid, "2026-08-28T10:00:00Z", "yesterday", 1)},
	}

	if _, err := FromJSON([]byte(valid)); err != nil {
		t.Fatalf("test setup: valid record rejected: %v", err)
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromJSON([]byte(tc.record)); err == nil {
				t.Errorf("corrupt record accepted: %s", tc.record)
			}
		})
	}
}

// TestDecodeAllLenient verifies N records with k corrupt ones load exactly
// N-k messages without a fault escaping.
func TestDecodeAllLenient(t *testing.T) {
	good := func(id string) []byte {
		msg := New(id, peerA, "alice", "hi "+id, false)
		data, err := msg.ToJSON()
		if err != nil {
			t.Fatalf("ToJSON failed: %v", err)
		}
		return data
	}

	records := [][]byte{
		good("m1"),
		[]byte(`{"id":"broken"`),
		good("m2"),
		[]byte(`{"id":"m3","sender":"nothex","senderName":"","text":"","timestamp":"2026-01-01T00:00:00Z","isLocal":false,"status":"sent"}`),
		good("m4"),
		[]byte(``),
	}

	messages := DecodeAll(records)
	if len(messages) != 3 {
		t.Fatalf("DecodeAll returned %d messages, want 3", len(messages))
	}
	for i, want := range []string{"m1", "m2", "m4"} {
		if messages[i].ID != want {
			t.Errorf("messages[%d].ID = %s, want %s", i, messages[i].ID, want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Status
	}{
		{"sent", StatusSent},
		{"delivered", StatusDelivered},
		{"read", StatusRead},
	} {
		got, err := ParseStatus(tc.name)
		if err != nil || got != tc.want {
			t.Errorf("ParseStatus(%q) = %v, %v", tc.name, got, err)
		}
	}

	if _, err := ParseStatus("SENT"); err == nil {
		t.Error("status names are lowercase; uppercase should fail")
	}
}

func TestTimestampSerializedAsUTC(t *testing.T) {
	msg := New("m1", peerA, "alice", "hi", true)
	msg.Timestamp = time.Date(2026, 8, 28, 12, 30, 0, 0, time.FixedZone("X", 3600))

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	loaded, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if !loaded.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp not preserved: %v vs %v", loaded.Timestamp, msg.Timestamp)
	}
}
