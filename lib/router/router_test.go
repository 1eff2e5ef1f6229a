// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/clock"
	"github.com/ltngt-ai/mind-swarm-sub002/lib/message"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// staticAgents is an AgentLister over a fixed slice.
type staticAgents []string

func (a staticAgents) ListAgents() ([]string, error) {
	return append([]string(nil), a...), nil
}

// newTestRouter lays out mailbox trees for the named agents under a
// temp root.
func newTestRouter(t *testing.T, agents ...string) (*Router, string) {
	t.Helper()
	root := t.TempDir()
	for _, name := range agents {
		for _, box := range []string{"inbox", "inbox/processed", "outbox", "outbox/sent"} {
			if err := os.MkdirAll(filepath.Join(root, "agents", name, box), 0755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
		}
	}
	r, err := New(Config{
		Root:   root,
		Agents: staticAgents(agents),
		Clock:  clock.Fake(testEpoch),
		Logger: slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, root
}

func writeOutbox(t *testing.T, root, sender string, m *message.Message) string {
	t.Helper()
	path, err := message.Write(filepath.Join(root, "agents", sender, "outbox"), m)
	if err != nil {
		t.Fatalf("writing outbox message: %v", err)
	}
	return path
}

func readInbox(t *testing.T, root, agent string) []*message.Message {
	t.Helper()
	inbox := filepath.Join(root, "agents", agent, "inbox")
	entries, err := os.ReadDir(inbox)
	if err != nil {
		t.Fatalf("reading inbox: %v", err)
	}
	var messages []*message.Message
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m, err := message.Read(filepath.Join(inbox, entry.Name()))
		if err != nil {
			t.Fatalf("parsing inbox file %s: %v", entry.Name(), err)
		}
		messages = append(messages, m)
	}
	return messages
}

func countSent(t *testing.T, root, sender string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "agents", sender, "outbox", "sent"))
	if err != nil {
		t.Fatalf("reading sent dir: %v", err)
	}
	return len(entries)
}

func TestDeliverToRegisteredAgent(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob")

	sent := &message.Message{
		ID:      message.NewID(),
		From:    "alice",
		To:      "bob",
		Type:    message.KindText,
		Content: "hello bob",
	}
	writeOutbox(t, root, "alice", sent)

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Scanned != 1 || stats.Delivered != 1 || stats.Failures != 0 {
		t.Errorf("stats = %+v, want 1 scanned, 1 delivered", stats)
	}

	inbox := readInbox(t, root, "bob")
	if len(inbox) != 1 {
		t.Fatalf("bob's inbox has %d messages, want 1", len(inbox))
	}
	if inbox[0].ID != sent.ID || inbox[0].Content != "hello bob" {
		t.Errorf("delivered message = %+v", inbox[0])
	}

	// The original moved to the audit directory, not deleted.
	if got := countSent(t, root, "alice"); got != 1 {
		t.Errorf("alice's sent dir has %d files, want 1", got)
	}
	outbox, _ := os.ReadDir(filepath.Join(root, "agents", "alice", "outbox"))
	for _, entry := range outbox {
		if !entry.IsDir() {
			t.Errorf("outbox still contains %s", entry.Name())
		}
	}
}

func TestUnknownRecipientReturnsDeliveryError(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob")

	sent := &message.Message{
		ID:      message.NewID(),
		From:    "alice",
		To:      "carol",
		Type:    message.KindText,
		Content: "anyone there?",
	}
	writeOutbox(t, root, "alice", sent)

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Failures != 1 || stats.Delivered != 0 {
		t.Errorf("stats = %+v, want 1 failure, 0 delivered", stats)
	}

	inbox := readInbox(t, root, "alice")
	if len(inbox) != 1 {
		t.Fatalf("alice's inbox has %d messages, want the error report", len(inbox))
	}
	report := inbox[0]
	if report.Type != message.KindDeliveryError {
		t.Fatalf("report type = %s", report.Type)
	}
	if report.From != RouterSender {
		t.Errorf("report sender = %s, want %s", report.From, RouterSender)
	}
	if report.Failure.OriginalID != sent.ID || report.Failure.OriginalTo != "carol" {
		t.Errorf("failure detail = %+v", report.Failure)
	}

	// The failed original is archived too; it must not be retried
	// forever.
	if got := countSent(t, root, "alice"); got != 1 {
		t.Errorf("alice's sent dir has %d files, want 1", got)
	}
}

func TestBroadcastReachesEveryoneButSender(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob", "carol")

	writeOutbox(t, root, "alice", &message.Message{
		ID:      message.NewID(),
		From:    "alice",
		To:      message.Broadcast,
		Type:    message.KindText,
		Content: "meeting at noon",
	})

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", stats.Delivered)
	}

	for _, recipient := range []string{"bob", "carol"} {
		if got := len(readInbox(t, root, recipient)); got != 1 {
			t.Errorf("%s's inbox has %d messages, want 1", recipient, got)
		}
	}
	if got := len(readInbox(t, root, "alice")); got != 0 {
		t.Errorf("broadcast echoed back to sender: %d messages", got)
	}
}

func TestUnparseableMessageReportsFailure(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob")

	outbox := filepath.Join(root, "agents", "alice", "outbox")
	if err := os.WriteFile(filepath.Join(outbox, "broken.msg"), []byte("not json"), 0644); err != nil {
		t.Fatalf("writing broken file: %v", err)
	}

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Failures != 1 {
		t.Errorf("failures = %d, want 1", stats.Failures)
	}

	inbox := readInbox(t, root, "alice")
	if len(inbox) != 1 || inbox[0].Type != message.KindDeliveryError {
		t.Fatalf("alice's inbox = %+v, want one delivery error", inbox)
	}
	if inbox[0].Failure.Digest == "" {
		t.Error("failure report missing content digest")
	}
	if got := countSent(t, root, "alice"); got != 1 {
		t.Errorf("broken file not archived: sent dir has %d files", got)
	}
}

func TestFailedInboxWriteLeavesOriginalForRetry(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob")

	// bob's tree is half-provisioned: no inbox directory yet.
	inbox := filepath.Join(root, "agents", "bob", "inbox")
	if err := os.RemoveAll(inbox); err != nil {
		t.Fatalf("removing inbox: %v", err)
	}

	m := &message.Message{
		ID:      message.NewID(),
		From:    "alice",
		To:      "bob",
		Type:    message.KindText,
		Content: "try again",
	}
	path := writeOutbox(t, root, "alice", m)

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Scanned != 1 || stats.Delivered != 0 {
		t.Errorf("stats = %+v, want 1 scanned, 0 delivered", stats)
	}

	// Archiving an undelivered message would lose it: the original must
	// still be in the outbox, not in sent.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("original gone from outbox after failed delivery: %v", err)
	}
	if got := countSent(t, root, "alice"); got != 0 {
		t.Fatalf("undelivered message archived: %d files in sent", got)
	}

	// The inbox appears; the next pass delivers and archives.
	if err := os.MkdirAll(inbox, 0755); err != nil {
		t.Fatalf("mkdir inbox: %v", err)
	}
	stats, err = r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d on retry, want 1", stats.Delivered)
	}
	if got := len(readInbox(t, root, "bob")); got != 1 {
		t.Errorf("bob's inbox has %d messages after retry, want 1", got)
	}
	if got := countSent(t, root, "alice"); got != 1 {
		t.Errorf("sent dir has %d files after retry, want 1", got)
	}
}

func TestBroadcastPartialFailureRetriesWithoutDuplicates(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob", "carol")

	carolInbox := filepath.Join(root, "agents", "carol", "inbox")
	if err := os.RemoveAll(carolInbox); err != nil {
		t.Fatalf("removing inbox: %v", err)
	}

	writeOutbox(t, root, "alice", &message.Message{
		ID:      message.NewID(),
		From:    "alice",
		To:      message.Broadcast,
		Type:    message.KindText,
		Content: "meeting at noon",
	})

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d, want 1 (bob only)", stats.Delivered)
	}
	if got := countSent(t, root, "alice"); got != 0 {
		t.Fatalf("partially delivered broadcast archived: %d files in sent", got)
	}

	if err := os.MkdirAll(carolInbox, 0755); err != nil {
		t.Fatalf("mkdir inbox: %v", err)
	}
	stats, err = r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d on retry, want 1 (carol only)", stats.Delivered)
	}
	// bob keeps exactly one copy; the retry skipped him by digest.
	if got := len(readInbox(t, root, "bob")); got != 1 {
		t.Errorf("bob's inbox has %d messages, want 1", got)
	}
	if got := len(readInbox(t, root, "carol")); got != 1 {
		t.Errorf("carol's inbox has %d messages, want 1", got)
	}
	if got := countSent(t, root, "alice"); got != 1 {
		t.Errorf("sent dir has %d files after retry, want 1", got)
	}
}

func TestRedeliveryAfterPartialPassIsIdempotent(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob")

	m := &message.Message{
		ID:      message.NewID(),
		From:    "alice",
		To:      "bob",
		Type:    message.KindText,
		Content: "once only",
	}
	// Simulate a crash between copy and archive: the inbox copy
	// exists and the outbox original is still present.
	if _, err := message.Write(filepath.Join(root, "agents", "bob", "inbox"), m); err != nil {
		t.Fatalf("pre-seeding inbox: %v", err)
	}
	writeOutbox(t, root, "alice", m)

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Delivered != 0 {
		t.Errorf("delivered = %d, want 0 (copy already present)", stats.Delivered)
	}
	if got := len(readInbox(t, root, "bob")); got != 1 {
		t.Errorf("bob's inbox has %d messages after redelivery, want 1", got)
	}
	if got := countSent(t, root, "alice"); got != 1 {
		t.Errorf("original not archived on the second pass: %d", got)
	}
}

func TestIDCollisionDeliveredUnderSuffixedName(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob")

	id := message.NewID()
	first := &message.Message{
		ID: id, From: "alice", To: "bob",
		Type: message.KindText, Content: "first",
	}
	if _, err := message.Write(filepath.Join(root, "agents", "bob", "inbox"), first); err != nil {
		t.Fatalf("pre-seeding inbox: %v", err)
	}

	second := &message.Message{
		ID: id, From: "alice", To: "bob",
		Type: message.KindText, Content: "second",
	}
	writeOutbox(t, root, "alice", second)

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", stats.Delivered)
	}

	inbox := readInbox(t, root, "bob")
	if len(inbox) != 2 {
		t.Fatalf("bob's inbox has %d messages, want both variants", len(inbox))
	}
	contents := map[string]bool{}
	for _, m := range inbox {
		contents[m.Content] = true
	}
	if !contents["first"] || !contents["second"] {
		t.Errorf("inbox contents = %v", contents)
	}
}

func TestOutboxRoutedOldestFirst(t *testing.T) {
	r, root := newTestRouter(t, "alice", "bob")

	older := &message.Message{
		ID: message.NewID(), From: "alice", To: "bob",
		Type: message.KindText, Content: "older",
	}
	newer := &message.Message{
		ID: message.NewID(), From: "alice", To: "bob",
		Type: message.KindText, Content: "newer",
	}
	olderPath := writeOutbox(t, root, "alice", older)
	newerPath := writeOutbox(t, root, "alice", newer)

	// ReadDir order is lexical by filename; only mtime reflects send
	// order.
	base := time.Now().Add(-time.Minute)
	if err := os.Chtimes(olderPath, base, base); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(newerPath, base.Add(30*time.Second), base.Add(30*time.Second)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if _, err := r.RouteOnce(context.Background()); err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}

	inbox := filepath.Join(root, "agents", "bob", "inbox")
	olderInfo, err := os.Stat(filepath.Join(inbox, older.FileName()))
	if err != nil {
		t.Fatalf("older message missing: %v", err)
	}
	newerInfo, err := os.Stat(filepath.Join(inbox, newer.FileName()))
	if err != nil {
		t.Fatalf("newer message missing: %v", err)
	}
	if olderInfo.ModTime().After(newerInfo.ModTime()) {
		t.Error("older message delivered after newer one")
	}
}

func TestEmptySwarmRoutesNothing(t *testing.T) {
	r, _ := newTestRouter(t)

	stats, err := r.RouteOnce(context.Background())
	if err != nil {
		t.Fatalf("RouteOnce: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("stats = %+v, want zero", stats)
	}
}
