package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/ports"
)

// Mask replaces masked values in the audit log.
const Mask = "***"

// DefaultPIIPatterns match the payload keys that carry contact details.
var DefaultPIIPatterns = []string{`^customer_name$`, `^email$`, `^phone$`}

type piiMiddleware struct {
	next     ports.ConversationStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware creates a middleware that masks transition payload values
// whose keys match the patterns. Live state is stored untouched since tools
// read slots from it.
func NewPIIMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.ConversationStore) ports.ConversationStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}
}

func (m *piiMiddleware) Load(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	return m.next.Load(ctx, key)
}

func (m *piiMiddleware) CompareAndSwap(ctx context.Context, next *domain.ConversationState, expectedVersion int64) (*domain.ConversationState, error) {
	return m.next.CompareAndSwap(ctx, next, expectedVersion)
}

func (m *piiMiddleware) Append(ctx context.Context, record domain.TransitionRecord) error {
	// Copy first; the caller still holds the record.
	record.Payload = deepCopyMap(record.Payload)
	maskMap(record.Payload, m.patterns)
	return m.next.Append(ctx, record)
}

func (m *piiMiddleware) Transitions(ctx context.Context, key domain.ConversationKey) ([]domain.TransitionRecord, error) {
	return m.next.Transitions(ctx, key)
}

func (m *piiMiddleware) List(ctx context.Context, workspaceID string) ([]string, error) {
	return list(ctx, m.next, workspaceID)
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			out[k] = deepCopyMap(sub)
		} else {
			out[k] = v
		}
	}
	return out
}

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		if sub, ok := v.(map[string]any); ok {
			maskMap(sub, patterns)
			continue
		}
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				break
			}
		}
	}
}
