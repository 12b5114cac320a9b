package registry

import "testing"

func TestValidAcceptsKnownKind(t *testing.T) {
	if !Valid("claude") {
		t.Fatal("expected claude to be a valid kind")
	}
}

func TestValidRejectsUnknownKind(t *testing.T) {
	if Valid("not-a-real-worker") {
		t.Fatal("expected unknown kind to be invalid")
	}
}

func TestResolveModelPrefersCallerSupplied(t *testing.T) {
	if got := ResolveModel("claude", "claude-opus-4"); got != "claude-opus-4" {
		t.Fatalf("expected caller-supplied model, got %q", got)
	}
}

func TestResolveModelFallsBackToDefault(t *testing.T) {
	got := ResolveModel("claude", "")
	if got == "" {
		t.Fatal("expected a non-empty default model for claude")
	}
}

func TestResolveModelUnknownKindReturnsEmpty(t *testing.T) {
	if got := ResolveModel("not-a-real-worker", ""); got != "" {
		t.Fatalf("expected empty model for unknown kind, got %q", got)
	}
}

func TestListIncludesEveryRegisteredKind(t *testing.T) {
	kinds := List()
	if len(kinds) == 0 {
		t.Fatal("expected at least one registered worker kind")
	}
	var sawClaude bool
	for _, k := range kinds {
		if k.Kind == "claude" {
			sawClaude = true
			if !k.ExecutesCommands {
				t.Error("expected claude to execute commands")
			}
		}
	}
	if !sawClaude {
		t.Fatal("expected claude in the registered kind list")
	}
}

func TestListExcludesCommandExecutionForVNC(t *testing.T) {
	for _, k := range List() {
		if k.Kind == "vnc" && k.ExecutesCommands {
			t.Fatal("expected vnc to not execute commands")
		}
	}
}
