package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		name    string
		header  string
		token   string
		wantErr error
	}{
		{name: "valid", header: "Bearer abc123", token: "abc123"},
		{name: "case insensitive scheme", header: "bearer abc123", token: "abc123"},
		{name: "padded", header: "  Bearer abc123  ", token: "abc123"},
		{name: "empty", header: "", wantErr: ErrMissingToken},
		{name: "wrong scheme", header: "Basic abc123", wantErr: ErrMalformedToken},
		{name: "no token", header: "Bearer ", wantErr: ErrMalformedToken},
		{name: "bare token", header: "abc123", wantErr: ErrMalformedToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, err := ExtractBearer(tc.header)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("got err %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if token != tc.token {
				t.Fatalf("got token %q, want %q", token, tc.token)
			}
		})
	}
}

func TestStaticModeValidatesAgainstAllowList(t *testing.T) {
	service, err := NewService(Config{
		Mode: ModeStatic,
		Tokens: []TokenEntry{
			{Subject: "pipeline", Token: "tok-a"},
			{Token: "tok-b"},
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	subject, err := service.Authenticate(context.Background(), "Bearer tok-a")
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if subject.Name != "pipeline" {
		t.Fatalf("got subject %q, want pipeline", subject.Name)
	}

	// An entry without a subject name falls back to a generic label.
	subject, err = service.Authenticate(context.Background(), "Bearer tok-b")
	if err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	if subject.Name != "static" {
		t.Fatalf("got subject %q, want static", subject.Name)
	}

	if _, err := service.Authenticate(context.Background(), "Bearer nope"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("got err %v, want ErrInvalidToken", err)
	}
	if _, err := service.Authenticate(context.Background(), ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("got err %v, want ErrMissingToken", err)
	}
}

func TestStaticModeRequiresTokens(t *testing.T) {
	if _, err := NewService(Config{Mode: ModeStatic}); err == nil {
		t.Fatal("expected error for static mode without tokens")
	}
}

func TestDisabledModeAdmitsAnyone(t *testing.T) {
	service, err := NewService(Config{Mode: ModeDisabled})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	subject, err := service.Authenticate(context.Background(), "")
	if err != nil {
		t.Fatalf("disabled mode must not reject: %v", err)
	}
	if subject.Name != "anonymous" {
		t.Fatalf("got subject %q, want anonymous", subject.Name)
	}
}

func TestUnsupportedModeRejected(t *testing.T) {
	if _, err := NewService(Config{Mode: Mode("jwt")}); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}

func TestSubjectContextRoundTrip(t *testing.T) {
	ctx := WithSubject(context.Background(), &Subject{Name: "pipeline"})
	subject := SubjectFromContext(ctx)
	if subject == nil || subject.Name != "pipeline" {
		t.Fatalf("got %+v", subject)
	}
	if subject := SubjectFromContext(context.Background()); subject != nil {
		t.Fatal("empty context must not carry a subject")
	}
	if name := SubjectName(ctx); name != "pipeline" {
		t.Fatalf("got subject name %q, want pipeline", name)
	}
	if name := SubjectName(context.Background()); name != "anonymous" {
		t.Fatalf("got subject name %q, want anonymous", name)
	}
}

func TestMiddlewareStatusCodes(t *testing.T) {
	service, err := NewService(Config{
		Mode:   ModeStatic,
		Tokens: []TokenEntry{{Subject: "pipeline", Token: "tok-a"}},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	var seen *Subject
	handler := service.Middleware("test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "no header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic tok-a", status: http.StatusBadRequest},
		{name: "empty token", header: "Bearer ", status: http.StatusBadRequest},
		{name: "unknown token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer tok-a", status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("got status %d, want %d", rec.Code, tc.status)
			}
		})
	}
	if seen == nil || seen.Name != "pipeline" {
		t.Fatalf("handler did not see the authenticated subject: %+v", seen)
	}
}
