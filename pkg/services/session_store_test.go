package services

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/edelae/frepi/pkg/llm"
)

func TestMemoryConversationStore_Roundtrip(t *testing.T) {
	store := NewConversationStore(nil, 0, zap.NewNop())
	ctx := context.Background()

	conversation, err := store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if conversation.TelegramChatID != 42 || len(conversation.Messages) != 0 {
		t.Fatalf("expected fresh context, got %+v", conversation)
	}

	conversation.PersonName = "Maria"
	conversation.AddMessage(llm.RoleUser, "oi")
	conversation.AddMessage(llm.RoleAssistant, "Olá!")
	if err := store.Save(ctx, conversation); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get after save: %v", err)
	}
	if loaded.PersonName != "Maria" || len(loaded.Messages) != 2 {
		t.Fatalf("context not persisted: %+v", loaded)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatal("Save must stamp UpdatedAt")
	}

	// Mutating the loaded copy must not leak into the store.
	loaded.Messages[0].Content = "changed"
	again, _ := store.Get(ctx, 42)
	if again.Messages[0].Content != "oi" {
		t.Fatal("store handed out a shared slice")
	}
}

func TestMemoryConversationStore_Clear(t *testing.T) {
	store := NewConversationStore(nil, 0, zap.NewNop())
	ctx := context.Background()

	conversation, _ := store.Get(ctx, 7)
	conversation.AddMessage(llm.RoleUser, "oi")
	if err := store.Save(ctx, conversation); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := store.Clear(ctx, 7); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	loaded, _ := store.Get(ctx, 7)
	if len(loaded.Messages) != 0 {
		t.Fatalf("context survived Clear: %+v", loaded)
	}
}

func TestConversationStore_TrimsHistory(t *testing.T) {
	store := NewConversationStore(nil, 0, zap.NewNop())
	ctx := context.Background()

	conversation, _ := store.Get(ctx, 1)
	for i := 0; i < maxConversationMessages+10; i++ {
		conversation.AddMessage(llm.RoleUser, "msg")
	}
	conversation.Messages[len(conversation.Messages)-1].Content = "last"
	if err := store.Save(ctx, conversation); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, _ := store.Get(ctx, 1)
	if len(loaded.Messages) != maxConversationMessages {
		t.Fatalf("expected history capped at %d, got %d", maxConversationMessages, len(loaded.Messages))
	}
	if loaded.Messages[len(loaded.Messages)-1].Content != "last" {
		t.Fatal("trim must keep the newest messages")
	}
}
