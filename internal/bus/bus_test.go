package bus

import (
	"testing"

	"github.com/haasonsaas/pawnguard/pkg/pawn"
)

func TestSendDeliversFIFOToRecipient(t *testing.T) {
	b := New()
	var received []string
	b.Register("butler", func(msg pawn.AgentMessage) {
		received = append(received, msg.Payload.(string))
	})

	b.Send(pawn.AgentMessage{From: "researcher", To: "butler", Type: pawn.MessageTask, Payload: "first"})
	b.Send(pawn.AgentMessage{From: "researcher", To: "butler", Type: pawn.MessageTask, Payload: "second"})

	if len(received) != 2 || received[0] != "first" || received[1] != "second" {
		t.Fatalf("received = %v, want [first second] in order", received)
	}
}

func TestSendToUnregisteredRecipientDoesNotPanic(t *testing.T) {
	b := New()
	b.Send(pawn.AgentMessage{From: "a", To: "nobody"})
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := New()
	var butlerGot, researcherGot bool
	b.Register("butler", func(msg pawn.AgentMessage) { butlerGot = true })
	b.Register("researcher", func(msg pawn.AgentMessage) { researcherGot = true })

	b.Broadcast(pawn.AgentMessage{From: "researcher", Type: pawn.MessageAlert})

	if !butlerGot {
		t.Fatal("butler should have received the broadcast")
	}
	if researcherGot {
		t.Fatal("researcher (the sender) should not receive its own broadcast")
	}
}

func TestHistoryBoundedOldestEvicted(t *testing.T) {
	b := New()
	b.historyLimit = 3
	for i := 0; i < 5; i++ {
		b.Send(pawn.AgentMessage{From: "a", To: "b"})
	}
	if len(b.history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(b.history))
	}
}

func TestGetHistoryFiltersByParticipant(t *testing.T) {
	b := New()
	b.Send(pawn.AgentMessage{From: "a", To: "b", Payload: "ab"})
	b.Send(pawn.AgentMessage{From: "c", To: "d", Payload: "cd"})
	b.Send(pawn.AgentMessage{From: "b", To: "a", Payload: "ba"})

	got := b.GetHistory("a", 0)
	if len(got) != 2 {
		t.Fatalf("GetHistory(a) = %v, want 2 entries", got)
	}
}

func TestGetHistoryRespectsLimit(t *testing.T) {
	b := New()
	for i := 0; i < 5; i++ {
		b.Send(pawn.AgentMessage{From: "a", To: "b"})
	}
	got := b.GetHistory("", 2)
	if len(got) != 2 {
		t.Fatalf("GetHistory limit=2 returned %d entries", len(got))
	}
}
