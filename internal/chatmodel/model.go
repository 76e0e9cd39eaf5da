// Package chatmodel holds the wire and in-process data shapes shared by
// the fetcher, search engine, and chat backends: messages, spaces, user
// profiles, search queries, and their scored/filtered derivatives.
package chatmodel

import "time"

// Space is a chat container (room, direct, or group-direct conversation).
// Read-only from the core's perspective; owned by the backend.
type Space struct {
	Name        string `json:"name"` // "spaces/{S}"
	Type        string `json:"type"` // "ROOM", "DIRECT_MESSAGE", "GROUP_DM"
	DisplayName string `json:"displayName,omitempty"`
}

// UserProfile is a best-effort snapshot of a user referenced by a message.
// All fields are optional; a failed lookup still produces a stub profile
// (Name + a synthesized DisplayName) rather than an empty struct.
type UserProfile struct {
	Name        string `json:"name"` // the sender reference as the backend reported it
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	GivenName   string `json:"givenName,omitempty"`
	FamilyName  string `json:"familyName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
}

// Annotation carries a user-mention marker embedded in a message.
type Annotation struct {
	Type          string       `json:"type"`
	MentionedUser *UserProfile `json:"mentionedUser,omitempty"`
}

// Thread identifies an ordered sub-conversation, distinct from any single
// message's own identity.
type Thread struct {
	Name string `json:"name"` // "spaces/{S}/threads/{T}"
}

// Message is a transient snapshot of a backend-owned chat message.
// Identity is the hierarchical resource name "spaces/{S}/messages/{M}".
type Message struct {
	Name        string       `json:"name"`
	Text        string       `json:"text"`
	CreateTime  time.Time    `json:"createTime"`
	Sender      string       `json:"sender,omitempty"` // opaque user reference
	Thread      *Thread      `json:"thread,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`

	// Enrichments, populated on demand by the Message Fetcher.
	SenderInfo *UserProfile `json:"sender_info,omitempty"`
	SpaceInfo  *SpaceInfo   `json:"space_info,omitempty"`
}

// SpaceInfo annotates a message with the identity/display name of its
// containing space, attached during multi-space collection.
type SpaceInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
}

// CreateTimeRFC3339 renders CreateTime normalized to UTC with a "Z" suffix,
// which is lexicographically comparable and the invariant spec.md §3 names.
func (m Message) CreateTimeRFC3339() string {
	return FormatRFC3339(m.CreateTime)
}

// SearchMode enumerates the Search Engine's ranking strategies.
type SearchMode string

const (
	ModeUnset    SearchMode = ""
	ModeExact    SearchMode = "exact"
	ModeRegex    SearchMode = "regex"
	ModeSemantic SearchMode = "semantic"
	ModeHybrid   SearchMode = "hybrid"
)

// SearchQuery is the immutable description of a single search request.
type SearchQuery struct {
	Query             string
	Mode              SearchMode
	Spaces            []string
	MaxResults        int
	StartDate         string // YYYY-MM-DD, optional
	EndDate           string // YYYY-MM-DD, optional
	BackendFilter     string // caller-supplied extension, AND-combined with the date filter
	IncludeSenderInfo bool
}

// ScoredMessage pairs a ranking score with the message it was computed for.
type ScoredMessage struct {
	Score   float64
	Message Message
}

// SearchMetadata is the envelope annotation every search response carries.
type SearchMetadata struct {
	Query         string     `json:"query"`
	Mode          SearchMode `json:"mode"`
	FoundCount    int        `json:"found_count"`
	SearchedCount int        `json:"searched_count"`
}

// SpaceInfoEnvelope lists which spaces a search actually traversed.
type SpaceInfoEnvelope struct {
	SearchedSpaces []string `json:"searched_spaces"`
}

// SearchResult is the full response envelope for a search call.
type SearchResult struct {
	Messages       []Message         `json:"messages"`
	NextPageToken  string            `json:"nextPageToken,omitempty"`
	Source         string            `json:"source"`
	SearchMetadata SearchMetadata    `json:"search_metadata"`
	SpaceInfo      SpaceInfoEnvelope `json:"space_info"`
	SearchComplete bool              `json:"search_complete"`
	Error          string            `json:"error,omitempty"`
}

// FormatRFC3339 renders t in UTC with microsecond precision, trailing
// zeros trimmed, and a "Z" suffix — the exact format the backend's filter
// grammar and message createTime fields both use.
func FormatRFC3339(t time.Time) string {
	t = t.UTC()
	s := t.Format("2006-01-02T15:04:05.000000")
	s = trimTrailingZeros(s)
	return s + "Z"
}

func trimTrailingZeros(s string) string {
	dot := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			dot = i
			break
		}
		if s[i] < '0' || s[i] > '9' {
			return s
		}
	}
	if dot < 0 {
		return s
	}
	end := len(s)
	for end > dot+1 && s[end-1] == '0' {
		end--
	}
	if end == dot+1 {
		end = dot // also drop the trailing "."
	}
	return s[:end]
}
