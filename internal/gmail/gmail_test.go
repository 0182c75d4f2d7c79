package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"replydraft/internal/apperr"
	"replydraft/internal/model"
)

// fakeGmail serves the handful of Gmail endpoints the session uses.
type fakeGmail struct {
	mu          sync.Mutex
	messages    map[string]*gmailv1.Message
	historyPage map[string]*gmailv1.ListHistoryResponse // keyed by page token ("" = first)
	labels      []*gmailv1.Label
	drafts      []*gmailv1.Draft
	modified    map[string]*gmailv1.ModifyMessageRequest
	labelCalls  int
	failModify  bool
	failDrafts  int // status code returned by drafts list when non-zero

	watchReq       *gmailv1.WatchRequest
	watchHistory   uint64
	profileHistory uint64
	stopped        bool
}

func newFakeGmail() *fakeGmail {
	return &fakeGmail{
		messages:    make(map[string]*gmailv1.Message),
		historyPage: make(map[string]*gmailv1.ListHistoryResponse),
		modified:    make(map[string]*gmailv1.ModifyMessageRequest),
	}
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/gmail/v1/users/me/")
	switch {
	case path == "history" && r.Method == http.MethodGet:
		page, ok := f.historyPage[r.URL.Query().Get("pageToken")]
		if !ok {
			page = &gmailv1.ListHistoryResponse{}
		}
		writeJSON(w, page)
	case path == "labels" && r.Method == http.MethodGet:
		f.labelCalls++
		writeJSON(w, &gmailv1.ListLabelsResponse{Labels: f.labels})
	case path == "labels" && r.Method == http.MethodPost:
		var l gmailv1.Label
		_ = json.NewDecoder(r.Body).Decode(&l)
		l.Id = "Label_1"
		f.labels = append(f.labels, &l)
		writeJSON(w, &l)
	case path == "drafts" && r.Method == http.MethodGet:
		if f.failDrafts != 0 {
			http.Error(w, `{"error":{"code":503,"message":"backend"}}`, f.failDrafts)
			return
		}
		writeJSON(w, &gmailv1.ListDraftsResponse{Drafts: f.drafts})
	case path == "drafts" && r.Method == http.MethodPost:
		var d gmailv1.Draft
		_ = json.NewDecoder(r.Body).Decode(&d)
		d.Id = "draft-" + d.Message.ThreadId
		f.drafts = append(f.drafts, &gmailv1.Draft{Id: d.Id, Message: &gmailv1.Message{ThreadId: d.Message.ThreadId, Raw: d.Message.Raw}})
		writeJSON(w, &d)
	case path == "messages" && r.Method == http.MethodGet:
		var refs []*gmailv1.Message
		for id := range f.messages {
			refs = append(refs, &gmailv1.Message{Id: id})
		}
		writeJSON(w, &gmailv1.ListMessagesResponse{Messages: refs})
	case strings.HasSuffix(path, "/modify") && r.Method == http.MethodPost:
		if f.failModify {
			http.Error(w, `{"error":{"code":500,"message":"boom"}}`, http.StatusInternalServerError)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(path, "messages/"), "/modify")
		var req gmailv1.ModifyMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.modified[id] = &req
		writeJSON(w, f.messages[id])
	case strings.HasPrefix(path, "messages/") && r.Method == http.MethodGet:
		m, ok := f.messages[strings.TrimPrefix(path, "messages/")]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
			return
		}
		writeJSON(w, m)
	case path == "watch" && r.Method == http.MethodPost:
		var req gmailv1.WatchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.watchReq = &req
		writeJSON(w, &gmailv1.WatchResponse{HistoryId: f.watchHistory, Expiration: 1767225600000})
	case path == "stop" && r.Method == http.MethodPost:
		f.stopped = true
		w.WriteHeader(http.StatusNoContent)
	case path == "profile" && r.Method == http.MethodGet:
		writeJSON(w, &gmailv1.Profile{EmailAddress: "me@example.com", HistoryId: f.profileHistory})
	default:
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotImplemented)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testSession(t *testing.T, fake *fakeGmail) *Session {
	t.Helper()
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	factory := func(ctx context.Context, account string) (*gmailv1.Service, error) {
		return gmailv1.NewService(ctx,
			option.WithEndpoint(ts.URL+"/"),
			option.WithHTTPClient(ts.Client()),
		)
	}
	c := NewClient(factory, Config{}, zerolog.Nop())
	s, err := c.Open(context.Background(), "me@example.com")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func inboundMessage(id, thread string) *gmailv1.Message {
	return &gmailv1.Message{
		Id:       id,
		ThreadId: thread,
		LabelIds: []string{"INBOX", "UNREAD"},
		Snippet:  "snippet text",
		Payload: &gmailv1.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmailv1.MessagePartHeader{
				{Name: "From", Value: "Jane <jane@example.com>"},
				{Name: "Subject", Value: "Pricing"},
				{Name: "Message-ID", Value: "<abc@mail.example.com>"},
			},
			Parts: []*gmailv1.MessagePart{
				{MimeType: "text/html", Body: &gmailv1.MessagePartBody{Data: b64("<p>html body</p>")}},
				{MimeType: "text/plain", Body: &gmailv1.MessagePartBody{Data: b64("plain body")}},
			},
		},
	}
}

func TestResolveByMessageRef(t *testing.T) {
	fake := newFakeGmail()
	fake.messages["m1"] = inboundMessage("m1", "t1")
	s := testSession(t, fake)

	msg, err := s.Resolve(context.Background(), "m1", 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if msg.ThreadID != "t1" || msg.Subject() != "Pricing" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.BodyText != "plain body" {
		t.Fatalf("expected text/plain body, got %q", msg.BodyText)
	}
	if !msg.Has(model.FlagInbox) || !msg.Has(model.FlagUnread) {
		t.Fatalf("flags not mapped: %v", msg.Flags)
	}
}

func TestResolveByCursorAcrossPages(t *testing.T) {
	fake := newFakeGmail()
	fake.messages["m2"] = inboundMessage("m2", "t2")
	fake.historyPage[""] = &gmailv1.ListHistoryResponse{
		History:       []*gmailv1.History{{Id: 101}},
		NextPageToken: "p2",
	}
	fake.historyPage["p2"] = &gmailv1.ListHistoryResponse{
		History: []*gmailv1.History{{
			Id:            102,
			MessagesAdded: []*gmailv1.HistoryMessageAdded{{Message: &gmailv1.Message{Id: "m2"}}},
		}},
	}
	s := testSession(t, fake)

	msg, err := s.Resolve(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if msg.ID != "m2" {
		t.Fatalf("expected m2 from second page, got %q", msg.ID)
	}
}

func TestResolveErrors(t *testing.T) {
	fake := newFakeGmail()
	fake.historyPage[""] = &gmailv1.ListHistoryResponse{}
	s := testSession(t, fake)
	ctx := context.Background()

	if _, err := s.Resolve(ctx, "", 0); apperr.Classify(err) != apperr.KindInput {
		t.Fatalf("expected input error, got %v", err)
	}
	if _, err := s.Resolve(ctx, "", 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Resolve(ctx, "missing", 0); apperr.Classify(err) != apperr.KindNotFound {
		t.Fatalf("expected not-found classification, got %v", err)
	}
}

func TestMarkProcessedCreatesLabelOnce(t *testing.T) {
	fake := newFakeGmail()
	fake.messages["m1"] = inboundMessage("m1", "t1")
	fake.messages["m2"] = inboundMessage("m2", "t2")
	s := testSession(t, fake)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		if err := s.MarkProcessed(ctx, id); err != nil {
			t.Fatalf("MarkProcessed(%s): %v", id, err)
		}
	}
	if len(fake.labels) != 1 || fake.labels[0].Name != DefaultProcessedLabel {
		t.Fatalf("expected one processed label, got %+v", fake.labels)
	}
	if fake.labelCalls != 1 {
		t.Fatalf("label id should be cached per session, listed %d times", fake.labelCalls)
	}
	req := fake.modified["m1"]
	if req == nil || req.AddLabelIds[0] != "Label_1" || req.RemoveLabelIds[0] != "UNREAD" {
		t.Fatalf("unexpected modify request: %+v", req)
	}
}

func TestProcessedLabelMapsToFlag(t *testing.T) {
	fake := newFakeGmail()
	fake.labels = []*gmailv1.Label{{Id: "Label_9", Name: DefaultProcessedLabel}}
	m := inboundMessage("m1", "t1")
	m.LabelIds = append(m.LabelIds, "Label_9")
	fake.messages["m1"] = m
	s := testSession(t, fake)

	msg, err := s.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !msg.Has(model.FlagProcessed) {
		t.Fatalf("expected PROCESSED flag, got %v", msg.Flags)
	}
}

func TestCreateDraftAndThreadHasDraft(t *testing.T) {
	fake := newFakeGmail()
	s := testSession(t, fake)
	ctx := context.Background()

	has, err := s.ThreadHasDraft(ctx, "t1")
	if err != nil || has {
		t.Fatalf("expected no draft, got %v %v", has, err)
	}
	id, err := s.CreateDraft(ctx, model.Draft{ThreadID: "t1", MIME: []byte("Subject: Re: hi\r\n\r\nbody")})
	if err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}
	if id != "draft-t1" {
		t.Fatalf("unexpected draft id %q", id)
	}
	has, err = s.ThreadHasDraft(ctx, "t1")
	if err != nil || !has {
		t.Fatalf("expected draft for t1, got %v %v", has, err)
	}
}

func TestTransientErrorsAreClassified(t *testing.T) {
	fake := newFakeGmail()
	fake.failDrafts = http.StatusServiceUnavailable
	s := testSession(t, fake)

	_, err := s.ThreadHasDraft(context.Background(), "t1")
	if apperr.Classify(err) != apperr.KindTransient {
		t.Fatalf("expected transient, got %v", err)
	}
}

func TestExtractBodyFallbacks(t *testing.T) {
	htmlOnly := model.Part{MimeType: "multipart/mixed", Children: []model.Part{
		{MimeType: "multipart/alternative", Children: []model.Part{
			{MimeType: "text/html", BodyData: "<p>Hello <b>there</b></p>"},
		}},
	}}
	got := ExtractBody(htmlOnly, "snip")
	if !strings.Contains(got, "Hello") || strings.Contains(got, "<p>") {
		t.Fatalf("html fallback not converted: %q", got)
	}

	nested := model.Part{MimeType: "multipart/mixed", Children: []model.Part{
		{MimeType: "multipart/alternative", Children: []model.Part{
			{MimeType: "text/html", BodyData: "<p>html</p>"},
			{MimeType: "text/plain", BodyData: "plain wins"},
		}},
	}}
	if got := ExtractBody(nested, "snip"); got != "plain wins" {
		t.Fatalf("expected nested plain text, got %q", got)
	}

	if got := ExtractBody(model.Part{MimeType: "multipart/mixed"}, "snip"); got != "snip" {
		t.Fatalf("expected snippet fallback, got %q", got)
	}
}

func TestStripHTMLTags(t *testing.T) {
	got := stripHTMLTags("<div>a &amp; b</div><br>c")
	if got != "a & b\n\nc" {
		t.Fatalf("stripHTMLTags = %q", got)
	}
}

func TestListUnreadCapsResults(t *testing.T) {
	fake := newFakeGmail()
	for _, id := range []string{"m1", "m2", "m3"} {
		fake.messages[id] = inboundMessage(id, "t-"+id)
	}
	s := testSession(t, fake)

	ids, err := s.ListUnread(context.Background(), []string{"UNREAD", "INBOX"}, 2)
	if err != nil {
		t.Fatalf("ListUnread: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	ids, err = s.ListUnread(context.Background(), nil, 0)
	if err != nil || len(ids) != 0 {
		t.Fatalf("ListUnread(0) = %v, %v", ids, err)
	}
}

func TestWatchRegistersTopic(t *testing.T) {
	fake := newFakeGmail()
	fake.watchHistory = 4242
	s := testSession(t, fake)

	reg, err := s.Watch(context.Background(), "projects/acme/topics/gmail-notifications", []string{"INBOX"})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if reg.HistoryID != 4242 || reg.Account != "me@example.com" {
		t.Fatalf("unexpected registration %+v", reg)
	}
	if !reg.Expiration.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expiration = %v", reg.Expiration)
	}
	if fake.watchReq.TopicName != "projects/acme/topics/gmail-notifications" ||
		len(fake.watchReq.LabelIds) != 1 || fake.watchReq.LabelIds[0] != "INBOX" {
		t.Fatalf("unexpected watch request %+v", fake.watchReq)
	}
}

func TestWatchFallsBackToProfileCursor(t *testing.T) {
	fake := newFakeGmail()
	fake.profileHistory = 77
	s := testSession(t, fake)

	reg, err := s.Watch(context.Background(), "projects/acme/topics/t", nil)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if reg.HistoryID != 77 {
		t.Fatalf("history id = %d, want 77", reg.HistoryID)
	}
}

func TestStopWatch(t *testing.T) {
	fake := newFakeGmail()
	s := testSession(t, fake)

	if err := s.StopWatch(context.Background()); err != nil {
		t.Fatalf("StopWatch: %v", err)
	}
	if !fake.stopped {
		t.Fatal("stop was not called")
	}
}
