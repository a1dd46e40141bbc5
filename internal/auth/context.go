package auth

import "context"

// ctxKey keeps context values private to this package.
type ctxKey int

const subjectCtxKey ctxKey = iota

// WithSubject stores the authenticated caller on the request context so the
// tool layer can attribute lifecycle operations to it.
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectCtxKey, subject)
}

// SubjectFromContext extracts the authenticated caller, or nil.
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectCtxKey).(*Subject)
	return subject
}

// SubjectName returns the caller's name for audit records, falling back to
// anonymous when the request carried no subject.
func SubjectName(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil && subject.Name != "" {
		return subject.Name
	}
	return "anonymous"
}
