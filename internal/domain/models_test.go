package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusFailed, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusQueued, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusQueued, false},
		{StatusProcessing, StatusProcessing, false},
		{StatusCompleted, StatusQueued, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	if StatusQueued.IsTerminal() || StatusProcessing.IsTerminal() {
		t.Error("QUEUED and PROCESSING must not be terminal")
	}
	if !StatusCompleted.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("COMPLETED and FAILED must be terminal")
	}
	if Status("DONE").Valid() {
		t.Error("unknown status reported as valid")
	}
}

func TestStatusUpdate_Validate(t *testing.T) {
	result := map[string]any{"summary": "normal"}

	tests := []struct {
		name    string
		next    Status
		update  StatusUpdate
		wantErr bool
	}{
		{name: "processing bare", next: StatusProcessing, update: StatusUpdate{}},
		{name: "processing with result", next: StatusProcessing, update: StatusUpdate{Result: result}, wantErr: true},
		{name: "completed with result", next: StatusCompleted, update: StatusUpdate{Result: result, ProcessingInfo: &ProcessingInfo{ModelVersion: "m"}}},
		{name: "completed without result", next: StatusCompleted, update: StatusUpdate{}, wantErr: true},
		{name: "completed with empty result", next: StatusCompleted, update: StatusUpdate{Result: map[string]any{}}, wantErr: true},
		{name: "completed with error", next: StatusCompleted, update: StatusUpdate{Result: result, ProcessingInfo: &ProcessingInfo{Error: "x"}}, wantErr: true},
		{name: "failed with error", next: StatusFailed, update: StatusUpdate{ProcessingInfo: &ProcessingInfo{Error: "boom"}}},
		{name: "failed without error", next: StatusFailed, update: StatusUpdate{ProcessingInfo: &ProcessingInfo{}}, wantErr: true},
		{name: "failed with result", next: StatusFailed, update: StatusUpdate{Result: result, ProcessingInfo: &ProcessingInfo{Error: "boom"}}, wantErr: true},
		{name: "back to queued", next: StatusQueued, update: StatusUpdate{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.update.Validate(tt.next)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusUpdate_ValidateQueuedIsInvalidTransition(t *testing.T) {
	err := StatusUpdate{}.Validate(StatusQueued)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"transport", TransportError("dial failed", errors.New("refused")), ErrorTypeTransport},
		{"wrapped remote", fmt.Errorf("analyze: %w", RemoteError(502, "bad gateway")), ErrorTypeRemote},
		{"page render", &PageRenderError{Page: 2, Err: errors.New("bad xobject")}, ErrorTypePageRender},
		{"not found", NotFoundError("record DGN-001"), ErrorTypeNotFound},
		{"plain", errors.New("plain"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TypeOf(tt.err); got != tt.want {
				t.Errorf("TypeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	if !errors.Is(NotFoundError("x"), ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	dup := DuplicateIdentifierError("DGN-001", errors.New("UNIQUE constraint failed"))
	if !errors.Is(dup, ErrDuplicateIdentifier) {
		t.Error("DuplicateIdentifierError should match ErrDuplicateIdentifier")
	}
	if !IsType(dup, ErrorTypeDuplicate) {
		t.Error("DuplicateIdentifierError should have duplicate type")
	}
}

func TestRemoteErrorTruncatesBody(t *testing.T) {
	body := make([]byte, 2000)
	for i := range body {
		body[i] = 'x'
	}
	err := RemoteError(500, string(body))
	if len(err.Message) > 600 {
		t.Errorf("message not truncated: %d bytes", len(err.Message))
	}
}

func TestPrincipals(t *testing.T) {
	var p Principal = Admin{AdminID: "ADM-001", Username: "root"}
	if p.Identifier() != "ADM-001" || p.Kind() != PrincipalAdmin {
		t.Errorf("unexpected admin principal: %s/%s", p.Identifier(), p.Kind())
	}
	p = User{UserID: "VET-004"}
	if p.Identifier() != "VET-004" || p.Kind() != PrincipalUser {
		t.Errorf("unexpected user principal: %s/%s", p.Identifier(), p.Kind())
	}
}
