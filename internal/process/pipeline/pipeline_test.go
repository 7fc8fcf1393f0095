package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/iJKos/TelegramHelper/internal/audience"
	"github.com/iJKos/TelegramHelper/internal/core/domain"
	"github.com/iJKos/TelegramHelper/internal/core/llm"
	"github.com/iJKos/TelegramHelper/internal/platform/config"
	"github.com/iJKos/TelegramHelper/internal/process/dedup"
	"github.com/iJKos/TelegramHelper/internal/scorer"
	db "github.com/iJKos/TelegramHelper/internal/storage"
)

type memRepo struct {
	inbound   []*domain.InboundItem
	published []*domain.PublishedItem
	seq       int
}

func (r *memRepo) ExistingInboundKeys(_ context.Context, channelID int64, messageIDs []int64) (map[int64]struct{}, error) {
	wanted := make(map[int64]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	existing := make(map[int64]struct{})

	for _, it := range r.inbound {
		if it.ChannelID != channelID {
			continue
		}

		if _, ok := wanted[it.TGMessageID]; ok {
			existing[it.TGMessageID] = struct{}{}
		}
	}

	return existing, nil
}

func (r *memRepo) SaveInboundBatch(_ context.Context, items []*domain.InboundItem) error {
	for _, it := range items {
		r.seq++
		stored := *it
		stored.ID = fmt.Sprintf("in-%d", r.seq)
		r.inbound = append(r.inbound, &stored)
	}

	return nil
}

func (r *memRepo) ListInboundByState(_ context.Context, state string, limit int) ([]domain.InboundItem, error) {
	var out []domain.InboundItem

	for _, it := range r.inbound {
		if it.State != state {
			continue
		}

		out = append(out, *it)
		if len(out) == limit {
			break
		}
	}

	return out, nil
}

func (r *memRepo) ListUnlinkedSummarized(_ context.Context) ([]domain.InboundItem, error) {
	var out []domain.InboundItem

	for _, it := range r.inbound {
		if it.State == domain.InboundStateSummarized && it.PublishedItemID == "" {
			out = append(out, *it)
		}
	}

	return out, nil
}

func (r *memRepo) ListInboundByPublished(_ context.Context, publishedID string) ([]domain.InboundItem, error) {
	var out []domain.InboundItem

	for _, it := range r.inbound {
		if it.PublishedItemID == publishedID {
			out = append(out, *it)
		}
	}

	return out, nil
}

func (r *memRepo) UpdateInboundCleanedBatch(_ context.Context, items []domain.InboundItem) error {
	for _, it := range items {
		stored := r.findInbound(it.ID)
		stored.Text = it.Text
		stored.URLs = it.URLs
		stored.State = domain.InboundStateClean
	}

	return nil
}

func (r *memRepo) UpdateInboundSummary(_ context.Context, it domain.InboundItem) error {
	stored := r.findInbound(it.ID)
	stored.Headline = it.Headline
	stored.Summary = it.Summary
	stored.Hashtags = it.Hashtags
	stored.State = domain.InboundStateSummarized

	return nil
}

func (r *memRepo) MarkInboundError(_ context.Context, id, errMsg string) error {
	stored := r.findInbound(id)
	stored.State = domain.InboundStateError
	stored.Error = errMsg

	return nil
}

func (r *memRepo) LinkInboundBatch(_ context.Context, links []db.InboundLink) error {
	for _, link := range links {
		stored := r.findInbound(link.InboundID)
		stored.PublishedItemID = link.PublishedID
		stored.State = domain.InboundStateDeduplicated
	}

	return nil
}

func (r *memRepo) InsertPublishedBatch(_ context.Context, items []*domain.PublishedItem) error {
	for _, it := range items {
		stored := *it
		r.published = append(r.published, &stored)
	}

	return nil
}

func (r *memRepo) ListPublishedByStates(_ context.Context, states []string) ([]domain.PublishedItem, error) {
	var out []domain.PublishedItem

	for _, it := range r.published {
		for _, state := range states {
			if it.State == state {
				out = append(out, *it)
				break
			}
		}
	}

	return out, nil
}

func (r *memRepo) ListPublishedWindow(_ context.Context, from, to time.Time) ([]domain.PublishedItem, error) {
	var out []domain.PublishedItem

	for _, it := range r.published {
		if !it.OccurredAt.Before(from) && !it.OccurredAt.After(to) {
			out = append(out, *it)
		}
	}

	return out, nil
}

func (r *memRepo) ListSentWithin(_ context.Context, from, to time.Time) ([]domain.PublishedItem, error) {
	var out []domain.PublishedItem

	for _, it := range r.published {
		if it.State == domain.PublishedStateSent && !it.SentAt.Before(from) && !it.SentAt.After(to) {
			out = append(out, *it)
		}
	}

	return out, nil
}

func (r *memRepo) ListTrainingCandidates(_ context.Context) ([]domain.PublishedItem, error) {
	var out []domain.PublishedItem

	for _, it := range r.published {
		if it.State == domain.PublishedStateSent {
			out = append(out, *it)
		}
	}

	return out, nil
}

func (r *memRepo) UpdatePublishedState(_ context.Context, id, state string) error {
	r.findPublished(id).State = state
	return nil
}

func (r *memRepo) UpdatePublishedText(_ context.Context, id, text, state string) error {
	stored := r.findPublished(id)
	stored.Text = text
	stored.State = state

	return nil
}

func (r *memRepo) SetPredictionScore(_ context.Context, id string, score float64) error {
	r.findPublished(id).PredictionScore = &score
	return nil
}

func (r *memRepo) SetBotReaction(_ context.Context, id, emoji string) error {
	r.findPublished(id).BotReaction = emoji
	return nil
}

func (r *memRepo) MarkPublishedSent(_ context.Context, id string, tgMessageID int64, sentAt time.Time) error {
	stored := r.findPublished(id)
	stored.TGMessageID = tgMessageID
	stored.SentAt = sentAt
	stored.State = domain.PublishedStateSent

	return nil
}

func (r *memRepo) MarkPublishedError(_ context.Context, id, errMsg string) error {
	stored := r.findPublished(id)
	stored.Error = errMsg
	stored.State = domain.PublishedStateError

	return nil
}

func (r *memRepo) UpdateEngagement(_ context.Context, id string, count int, normalized float64) error {
	stored := r.findPublished(id)
	stored.EngagementCount = count
	stored.NormalizedScore = normalized

	return nil
}

func (r *memRepo) findInbound(id string) *domain.InboundItem {
	for _, it := range r.inbound {
		if it.ID == id {
			return it
		}
	}

	panic("unknown inbound id " + id)
}

func (r *memRepo) findPublished(id string) *domain.PublishedItem {
	for _, it := range r.published {
		if it.ID == id {
			return it
		}
	}

	panic("unknown published id " + id)
}

func (r *memRepo) statesOfPublished() map[string]int {
	out := make(map[string]int)
	for _, it := range r.published {
		out[it.State]++
	}

	return out
}

type memSession struct {
	channels  []domain.ChannelInfo
	output    domain.ChannelInfo
	messages  map[int64][]domain.InboundItem
	audience  map[int64]int
	reactions map[int64][]domain.Reaction
}

func (s *memSession) FolderChannels(_ context.Context, _ string) ([]domain.ChannelInfo, error) {
	return s.channels, nil
}

func (s *memSession) ResolveChannel(_ context.Context, _ string) (domain.ChannelInfo, error) {
	return s.output, nil
}

func (s *memSession) FetchMessages(_ context.Context, ch domain.ChannelInfo, from, to time.Time) ([]domain.InboundItem, error) {
	var out []domain.InboundItem

	for _, msg := range s.messages[ch.ID] {
		if msg.OccurredAt.Before(from) || !msg.OccurredAt.Before(to) {
			continue
		}

		out = append(out, msg)
	}

	return out, nil
}

func (s *memSession) AudienceSize(_ context.Context, ch domain.ChannelInfo) (int, error) {
	return s.audience[ch.ID], nil
}

func (s *memSession) Reactions(_ context.Context, _ domain.ChannelInfo, messageID int64) ([]domain.Reaction, error) {
	return s.reactions[messageID], nil
}

type memSender struct {
	nextID    int64
	sent      []string
	edited    []int64
	reactions map[int64]string
}

func (s *memSender) Send(text string) (int64, error) {
	s.nextID++
	s.sent = append(s.sent, text)

	return s.nextID, nil
}

func (s *memSender) Edit(messageID int64, text string) error {
	s.edited = append(s.edited, messageID)
	return nil
}

func (s *memSender) SetReaction(messageID int64, emoji string) error {
	if s.reactions == nil {
		s.reactions = make(map[int64]string)
	}

	s.reactions[messageID] = emoji

	return nil
}

type memSummarizer struct{}

func (memSummarizer) Summarize(_ context.Context, text string) (*llm.Summary, error) {
	return &llm.Summary{
		Headline: "headline: " + text,
		Text:     "summary: " + text,
		Hashtags: []string{"#новости"},
	}, nil
}

// headlineResolver reports a duplicate when the candidate headline already
// exists in the pool.
type headlineResolver struct {
	calls int
}

func (r *headlineResolver) Resolve(_ context.Context, candidate dedup.Candidate, pool []dedup.Candidate) (string, error) {
	r.calls++

	for _, existing := range pool {
		if existing.Headline == candidate.Headline {
			return existing.ID, nil
		}
	}

	return "", nil
}

type memScorer struct {
	score   float64
	samples int
	trained [][]scorer.Example
}

func (s *memScorer) SampleCount() int { return s.samples }

func (s *memScorer) Predict(_ context.Context, _ scorer.Input) (float64, error) {
	return s.score, nil
}

func (s *memScorer) Train(_ context.Context, examples []scorer.Example) error {
	s.trained = append(s.trained, examples)
	s.samples = len(examples)

	return nil
}

type memRenderer struct{}

func (memRenderer) Message(_ context.Context, primary domain.InboundItem, _ []domain.InboundItem) string {
	return "rendered: " + primary.Headline
}

type memDigest struct {
	calls int
}

func (d *memDigest) Post(_ context.Context, _, _ time.Time) (bool, error) {
	d.calls++
	return true, nil
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		SourceFolderName:        "sources",
		OutputChannelName:       "outchannel",
		SummarizeBatchLimit:     50,
		MinSummaryLength:        1,
		MinRawLength:            1,
		DedupWindowDays:         7,
		EngagementWindowDays:    7,
		ScorerMinSamples:        3,
		ScorerPosThreshold:      0.7,
		ScorerNegThreshold:      0.2,
		LowScoreSendProbability: 0.5,
		SendConcurrency:         1,
	}
}

func newTestPipeline(cfg *config.Config, repo *memRepo, sender *memSender, sc *memScorer, resolver *headlineResolver) *Pipeline {
	logger := zerolog.Nop()

	p := New(cfg, Deps{
		Repo:       repo,
		Summarizer: memSummarizer{},
		Resolver:   resolver,
		Scorer:     sc,
		Renderer:   memRenderer{},
		Sender:     sender,
		Digest:     &memDigest{},
		Audience:   audience.NewCache(time.UTC),
	}, &logger)
	p.randFloat = func() float64 { return 1 }

	return p
}

func sourceMessage(channelID, messageID int64, text string, at time.Time) domain.InboundItem {
	return domain.InboundItem{
		TGMessageID: messageID,
		ChannelID:   channelID,
		ChannelName: "Source",
		Author:      "source",
		RawText:     text,
		OccurredAt:  at,
		State:       domain.InboundStateRead,
	}
}

func newTestSession(at time.Time) *memSession {
	src := domain.ChannelInfo{ID: 100, AccessHash: 7, Username: "source", Title: "Source"}
	out := domain.ChannelInfo{ID: 200, AccessHash: 8, Username: "outchannel", Title: "Output"}

	return &memSession{
		channels: []domain.ChannelInfo{src},
		output:   out,
		messages: map[int64][]domain.InboundItem{
			100: {
				sourceMessage(100, 1, "первая новость", at),
				sourceMessage(100, 2, "вторая новость", at.Add(time.Minute)),
				sourceMessage(100, 3, "первая новость", at.Add(2*time.Minute)),
			},
		},
		audience: map[int64]int{100: 1000, 200: 500},
	}
}

func TestRunEndToEndFunnel(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	repo := &memRepo{}
	sender := &memSender{}
	sc := &memScorer{score: 0.9, samples: 5}
	resolver := &headlineResolver{}

	p := newTestPipeline(testPipelineConfig(), repo, sender, sc, resolver)
	session := newTestSession(from.Add(30 * time.Minute))

	funnel, err := p.Run(context.Background(), session, from, to)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if funnel.Read != 3 {
		t.Errorf("funnel.Read = %d, want 3", funnel.Read)
	}

	if funnel.Sent != 3 {
		t.Errorf("funnel.Sent = %d, want 3", funnel.Sent)
	}

	// Two distinct stories, the third message merged into the first.
	if funnel.ToSend != 2 {
		t.Errorf("funnel.ToSend = %d, want 2", funnel.ToSend)
	}

	if len(sender.sent) != 2 {
		t.Errorf("sent %d messages, want 2", len(sender.sent))
	}

	states := repo.statesOfPublished()
	if states[domain.PublishedStateSent] != 2 {
		t.Errorf("published sent count = %d, want 2; states %v", states[domain.PublishedStateSent], states)
	}

	linked, _ := repo.ListInboundByPublished(context.Background(), repo.published[0].ID)
	if len(linked) != 2 {
		t.Errorf("first story has %d linked sources, want 2", len(linked))
	}
}

func TestRunSecondPassIngestsNothing(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	repo := &memRepo{}
	sender := &memSender{}
	sc := &memScorer{score: 0.9, samples: 5}

	p := newTestPipeline(testPipelineConfig(), repo, sender, sc, &headlineResolver{})
	session := newTestSession(from.Add(30 * time.Minute))

	if _, err := p.Run(context.Background(), session, from, to); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}

	funnel, err := p.Run(context.Background(), session, from, to)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if funnel.Read != 0 {
		t.Errorf("second run funnel.Read = %d, want 0", funnel.Read)
	}

	if len(sender.sent) != 2 {
		t.Errorf("second run sent new messages, total %d, want 2", len(sender.sent))
	}
}

func TestRunDuplicateUpdatesExistingStory(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	repo := &memRepo{}
	sender := &memSender{nextID: 100}

	// A story published on a previous run, still inside the dedup window.
	repo.published = append(repo.published, &domain.PublishedItem{
		ID:          "pub-existing",
		TGMessageID: 42,
		Text:        "rendered: headline: первая новость",
		OccurredAt:  from.Add(-24 * time.Hour),
		State:       domain.PublishedStateSent,
		SentAt:      from.Add(-23 * time.Hour),
	})
	repo.inbound = append(repo.inbound, &domain.InboundItem{
		ID:              "in-existing",
		TGMessageID:     1,
		ChannelID:       100,
		Headline:        "headline: первая новость",
		Summary:         "summary: первая новость",
		Hashtags:        []string{"#новости"},
		OccurredAt:      from.Add(-24 * time.Hour),
		State:           domain.InboundStateDeduplicated,
		PublishedItemID: "pub-existing",
	})

	p := newTestPipeline(testPipelineConfig(), repo, sender, &memScorer{score: 0.9, samples: 5}, &headlineResolver{})

	session := newTestSession(from.Add(30 * time.Minute))
	session.messages = map[int64][]domain.InboundItem{
		100: {sourceMessage(100, 7, "первая новость", from.Add(30 * time.Minute))},
	}

	funnel, err := p.Run(context.Background(), session, from, to)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if funnel.Read != 1 || funnel.Sent != 1 || funnel.ToSend != 1 {
		t.Errorf("funnel = %s, want 1 / 1 / 1", funnel)
	}

	if len(repo.published) != 1 {
		t.Fatalf("published count = %d, want 1 (duplicate must not create a story)", len(repo.published))
	}

	if len(sender.sent) != 0 {
		t.Errorf("sent %d new messages, want 0", len(sender.sent))
	}

	if len(sender.edited) != 1 || sender.edited[0] != 42 {
		t.Errorf("edited = %v, want [42]", sender.edited)
	}

	if repo.published[0].State != domain.PublishedStateSent {
		t.Errorf("published state = %q, want %q", repo.published[0].State, domain.PublishedStateSent)
	}

	linked, _ := repo.ListInboundByPublished(context.Background(), "pub-existing")
	if len(linked) != 2 {
		t.Errorf("story has %d linked sources, want 2", len(linked))
	}
}

func TestRunRequiredHashtagGate(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	cfg := testPipelineConfig()
	cfg.RequiredHashtags = []string{"#спорт"}

	repo := &memRepo{}
	sender := &memSender{}

	p := newTestPipeline(cfg, repo, sender, &memScorer{score: 0.9, samples: 5}, &headlineResolver{})
	session := newTestSession(from.Add(30 * time.Minute))

	funnel, err := p.Run(context.Background(), session, from, to)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("sent %d messages despite missing required hashtag", len(sender.sent))
	}

	if funnel.ToSend != 0 {
		t.Errorf("funnel.ToSend = %d, want 0", funnel.ToSend)
	}

	states := repo.statesOfPublished()
	if states[domain.PublishedStateNoSend] != 2 {
		t.Errorf("no_send count = %d, want 2; states %v", states[domain.PublishedStateNoSend], states)
	}
}

func TestRunDemotesLowScores(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	repo := &memRepo{}
	sender := &memSender{}

	p := newTestPipeline(testPipelineConfig(), repo, sender, &memScorer{score: 0.1, samples: 5}, &headlineResolver{})
	session := newTestSession(from.Add(30 * time.Minute))

	if _, err := p.Run(context.Background(), session, from, to); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("sent %d low score messages, want 0", len(sender.sent))
	}

	states := repo.statesOfPublished()
	if states[domain.PublishedStateLowScore] != 2 {
		t.Errorf("low_score count = %d, want 2; states %v", states[domain.PublishedStateLowScore], states)
	}
}

func TestRunLowScoreExploration(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	repo := &memRepo{}
	sender := &memSender{}

	p := newTestPipeline(testPipelineConfig(), repo, sender, &memScorer{score: 0.1, samples: 5}, &headlineResolver{})
	p.randFloat = func() float64 { return 0 }
	session := newTestSession(from.Add(30 * time.Minute))

	if _, err := p.Run(context.Background(), session, from, to); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sender.sent) != 2 {
		t.Errorf("sent %d messages, want 2 (exploration keeps low scores)", len(sender.sent))
	}
}

func TestRunTrainsOnSmallBatches(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	repo := &memRepo{}
	sender := &memSender{}
	sc := &memScorer{score: 0.9, samples: 5}

	p := newTestPipeline(testPipelineConfig(), repo, sender, sc, &headlineResolver{})

	session := newTestSession(from.Add(30 * time.Minute))
	session.reactions = map[int64][]domain.Reaction{
		1: {{Emoji: "👍", Count: 2}},
		2: {{Emoji: "👎", Count: 1}},
	}

	if _, err := p.Run(context.Background(), session, from, to); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Two labeled stories are below ScorerMinSamples, yet the batch must
	// still reach the model so small runs accumulate toward warm-up.
	if len(sc.trained) != 1 {
		t.Fatalf("Train called %d times, want 1", len(sc.trained))
	}

	if got := len(sc.trained[0]); got != 2 {
		t.Errorf("trained on %d examples, want 2", got)
	}
}

func TestRunSkipsOracleWithoutHashtags(t *testing.T) {
	from := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	repo := &memRepo{}
	resolver := &headlineResolver{}

	repo.inbound = append(repo.inbound, &domain.InboundItem{
		ID:          "in-tagless",
		TGMessageID: 9,
		ChannelID:   100,
		Summary:     "без тегов",
		Headline:    "без тегов",
		OccurredAt:  from,
		State:       domain.InboundStateSummarized,
	})

	p := newTestPipeline(testPipelineConfig(), repo, &memSender{}, &memScorer{score: 0.9, samples: 5}, resolver)
	session := newTestSession(from.Add(30 * time.Minute))
	session.messages = nil

	if _, err := p.Run(context.Background(), session, from, to); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if resolver.calls != 0 {
		t.Errorf("resolver called %d times for tagless item, want 0", resolver.calls)
	}
}
