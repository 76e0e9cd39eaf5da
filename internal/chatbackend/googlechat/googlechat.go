// Package googlechat implements chatbackend.Backend against the Google
// Chat REST API (chat.googleapis.com/v1) and the People API for sender
// enrichment.
//
// Grounded on original_source's api/messages.py, api/spaces.py, and
// api/auth.py's get_user_info_by_id (the stub-on-failure profile), ported
// from googleapiclient's discovery-based `service.spaces().messages()`
// calls to direct REST calls over the oauth2-authenticated http.Client the
// teacher's internal/service.client.go shapes its MCP client around.
package googlechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rakunlabs/chatgate/internal/chatbackend"
	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/errs"
)

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

const (
	chatBaseURL   = "https://chat.googleapis.com/v1"
	peopleBaseURL = "https://people.googleapis.com/v1"
)

// Backend implements chatbackend.Backend and chatbackend.ReactionBackend.
type Backend struct {
	client *http.Client
}

var (
	_ chatbackend.Backend         = (*Backend)(nil)
	_ chatbackend.ReactionBackend = (*Backend)(nil)
)

// New builds a Backend that authenticates outbound requests with client,
// an *http.Client produced by an oauth2.TokenSource (see internal/provider).
func New(client *http.Client) *Backend {
	return &Backend{client: client}
}

func (b *Backend) Name() string { return "googlechat" }

type wireSpace struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	DisplayName string `json:"displayName"`
	SpaceType   string `json:"spaceType"`
}

func (b *Backend) ListSpaces(ctx context.Context) ([]chatmodel.Space, error) {
	var out []chatmodel.Space
	pageToken := ""
	for {
		q := url.Values{"pageSize": {"100"}}
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		var page struct {
			Spaces        []wireSpace `json:"spaces"`
			NextPageToken string      `json:"nextPageToken"`
		}
		if err := b.get(ctx, chatBaseURL+"/spaces?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, s := range page.Spaces {
			typ := s.Type
			if typ == "" {
				typ = s.SpaceType
			}
			out = append(out, chatmodel.Space{Name: s.Name, Type: typ, DisplayName: s.DisplayName})
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return out, nil
}

type wireMessage struct {
	Name        string          `json:"name"`
	Text        string          `json:"text"`
	CreateTime  string          `json:"createTime"`
	Sender      *wireSender     `json:"sender"`
	Thread      *wireThread     `json:"thread"`
	Annotations []wireAnnotation `json:"annotations"`
}

type wireSender struct {
	Name string `json:"name"`
}

type wireThread struct {
	Name string `json:"name"`
}

type wireAnnotation struct {
	Type          string      `json:"type"`
	MentionedUser *wireSender `json:"userMention,omitempty"`
}

func (m wireMessage) toModel() chatmodel.Message {
	out := chatmodel.Message{
		Name: m.Name,
		Text: m.Text,
	}
	if t, err := parseRFC3339(m.CreateTime); err == nil {
		out.CreateTime = t
	}
	if m.Sender != nil {
		out.Sender = m.Sender.Name
	}
	if m.Thread != nil {
		out.Thread = &chatmodel.Thread{Name: m.Thread.Name}
	}
	for _, a := range m.Annotations {
		ann := chatmodel.Annotation{Type: a.Type}
		if a.MentionedUser != nil {
			ann.MentionedUser = &chatmodel.UserProfile{Name: a.MentionedUser.Name}
		}
		out.Annotations = append(out.Annotations, ann)
	}
	return out
}

func (b *Backend) ListMessages(ctx context.Context, space string, opts chatbackend.ListMessagesOptions) (chatbackend.ListMessagesPage, error) {
	q := url.Values{"parent": {space}}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 25
	}
	if pageSize > 1000 {
		pageSize = 1000
	}
	q.Set("pageSize", strconv.Itoa(pageSize))
	if opts.PageToken != "" {
		q.Set("pageToken", opts.PageToken)
	}
	if opts.Filter != "" {
		q.Set("filter", opts.Filter)
	}
	orderBy := opts.OrderBy
	if orderBy == "" {
		orderBy = "createTime desc"
	}
	q.Set("orderBy", orderBy)

	var page struct {
		Messages      []wireMessage `json:"messages"`
		NextPageToken string        `json:"nextPageToken"`
	}
	if err := b.get(ctx, chatBaseURL+"/"+space+"/messages?"+q.Encode(), &page); err != nil {
		return chatbackend.ListMessagesPage{}, err
	}

	out := chatbackend.ListMessagesPage{NextPageToken: page.NextPageToken}
	for _, m := range page.Messages {
		out.Messages = append(out.Messages, m.toModel())
	}
	return out, nil
}

func (b *Backend) GetMessage(ctx context.Context, name string) (chatmodel.Message, error) {
	var m wireMessage
	if err := b.get(ctx, chatBaseURL+"/"+name, &m); err != nil {
		return chatmodel.Message{}, err
	}
	return m.toModel(), nil
}

func (b *Backend) CreateMessage(ctx context.Context, space, text, threadName string) (chatmodel.Message, error) {
	body := map[string]any{"text": text}
	u := chatBaseURL + "/" + space + "/messages"
	if threadName != "" {
		body["thread"] = map[string]string{"name": threadName}
		u += "?messageReplyOption=REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"
	}

	var m wireMessage
	if err := b.post(ctx, u, body, &m); err != nil {
		return chatmodel.Message{}, err
	}
	return m.toModel(), nil
}

func (b *Backend) UpdateMessage(ctx context.Context, name, text string) (chatmodel.Message, error) {
	body := map[string]any{"name": name, "text": text}
	u := chatBaseURL + "/" + name + "?updateMask=text"

	var m wireMessage
	if err := b.patch(ctx, u, body, &m); err != nil {
		return chatmodel.Message{}, err
	}
	return m.toModel(), nil
}

func (b *Backend) DeleteMessage(ctx context.Context, name string) error {
	return b.delete(ctx, chatBaseURL+"/"+name)
}

func (b *Backend) AddReaction(ctx context.Context, messageName, emoji string) error {
	if !strings.HasPrefix(messageName, "spaces/") {
		return errs.New(errs.KindInvalidArgument, "message name must be a full resource name (spaces/*/messages/*)")
	}
	body := map[string]any{"emoji": map[string]string{"unicode": emoji}}
	return b.post(ctx, chatBaseURL+"/"+messageName+"/reactions", body, nil)
}

type wirePerson struct {
	Names []struct {
		DisplayName string `json:"displayName"`
		GivenName   string `json:"givenName"`
		FamilyName  string `json:"familyName"`
	} `json:"names"`
	EmailAddresses []struct {
		Value string `json:"value"`
	} `json:"emailAddresses"`
	Photos []struct {
		URL string `json:"url"`
	} `json:"photos"`
}

// ResolveUser looks up sender via the People API, falling back to a
// synthesized stub profile (non-error) on any failure, per
// get_user_info_by_id's except-clause behavior in the original.
func (b *Backend) ResolveUser(ctx context.Context, sender string) (chatmodel.UserProfile, error) {
	resource := peopleResource(sender)

	var p wirePerson
	err := b.get(ctx, peopleBaseURL+"/"+resource+"?personFields=names,emailAddresses,photos", &p)
	if err != nil {
		return chatmodel.UserProfile{Name: sender, DisplayName: stubDisplayName(sender)}, nil
	}

	profile := chatmodel.UserProfile{Name: sender}
	if len(p.Names) > 0 {
		profile.DisplayName = p.Names[0].DisplayName
		profile.GivenName = p.Names[0].GivenName
		profile.FamilyName = p.Names[0].FamilyName
	}
	if len(p.EmailAddresses) > 0 {
		profile.Email = p.EmailAddresses[0].Value
	}
	if len(p.Photos) > 0 {
		profile.PhotoURL = p.Photos[0].URL
	}
	if profile.DisplayName == "" {
		profile.DisplayName = stubDisplayName(sender)
	}
	return profile, nil
}

func stubDisplayName(sender string) string {
	parts := strings.Split(sender, "/")
	return "User " + parts[len(parts)-1]
}

func peopleResource(sender string) string {
	if strings.HasPrefix(sender, "people/") {
		return sender
	}
	if strings.HasPrefix(sender, "users/") {
		return "people/" + strings.TrimPrefix(sender, "users/")
	}
	return "people/" + sender
}

func (b *Backend) get(ctx context.Context, u string, out any) error {
	return b.do(ctx, http.MethodGet, u, nil, out)
}

func (b *Backend) post(ctx context.Context, u string, body, out any) error {
	return b.do(ctx, http.MethodPost, u, body, out)
}

func (b *Backend) patch(ctx context.Context, u string, body, out any) error {
	return b.do(ctx, http.MethodPatch, u, body, out)
}

func (b *Backend) delete(ctx context.Context, u string) error {
	return b.do(ctx, http.MethodDelete, u, nil, nil)
}

func (b *Backend) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindBackendError, fmt.Sprintf("%s %s", method, u), err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return errs.New(errs.KindBackendError, fmt.Sprintf("%s %s: %d: %s", method, u, resp.StatusCode, string(respBody)))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", u, err)
	}
	return nil
}
