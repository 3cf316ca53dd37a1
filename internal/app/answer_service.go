package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gopherai-analyst/internal/access"
	"gopherai-analyst/internal/audit"
	"gopherai-analyst/internal/conversation"
	"gopherai-analyst/internal/metrics"
)

const defaultChunkRunes = 48

var (
	DefaultResetPhrases = []string{"reset", "clear", "/reset"}
	DefaultExportPrefix = "export"
)

type AnswerInput struct {
	ConversationID string
	UserID         string
	Question       string
}

type Reply struct {
	Text    string    `json:"answer"`
	Source  SourceTag `json:"source,omitempty"`
	Control bool      `json:"control"`
	Cached  bool      `json:"cached"`
}

// Exporter renders a conversation for an export command.
type Exporter interface {
	Export(ctx context.Context, conversationID, request string, history []conversation.Turn) (string, error)
}

// Transcript mirrors conversation turns outside the process, scoped to the
// user who owns the conversation.
type Transcript interface {
	Append(ctx context.Context, userID, conversationID string, turns ...conversation.Turn) error
	Delete(ctx context.Context, userID, conversationID string) error
}

type AnswerOptions struct {
	TopK         int
	ResetPhrases []string
	ExportPrefix string
	ChunkRunes   int
}

// AnswerService runs one question through cache, tools and synthesis.
type AnswerService struct {
	registry    *conversation.Registry
	resolver    *access.Resolver
	retriever   *Retriever
	analyzer    *Analyzer
	synthesizer *Synthesizer
	exporter    Exporter
	transcript  Transcript
	sink        audit.Sink
	opts        AnswerOptions
	logger      *zap.Logger
}

func NewAnswerService(
	registry *conversation.Registry,
	resolver *access.Resolver,
	retriever *Retriever,
	analyzer *Analyzer,
	synthesizer *Synthesizer,
	exporter Exporter,
	transcript Transcript,
	sink audit.Sink,
	opts AnswerOptions,
	logger *zap.Logger,
) *AnswerService {
	if len(opts.ResetPhrases) == 0 {
		opts.ResetPhrases = DefaultResetPhrases
	}
	if strings.TrimSpace(opts.ExportPrefix) == "" {
		opts.ExportPrefix = DefaultExportPrefix
	}
	if opts.ChunkRunes <= 0 {
		opts.ChunkRunes = defaultChunkRunes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerService{
		registry:    registry,
		resolver:    resolver,
		retriever:   retriever,
		analyzer:    analyzer,
		synthesizer: synthesizer,
		exporter:    exporter,
		transcript:  transcript,
		sink:        sink,
		opts:        opts,
		logger:      logger.Named("answer"),
	}
}

// Answer returns the reply to one question and streams it to onChunk, which
// may be nil. Internal failures never escape: they become GenericApology.
// The returned error is ErrInvalidInput, ErrNotOwner when the conversation
// was opened by another user, or a failure of onChunk.
func (s *AnswerService) Answer(ctx context.Context, in AnswerInput, onChunk func(string) error) (reply *Reply, err error) {
	question := strings.TrimSpace(in.Question)
	if question == "" || strings.TrimSpace(in.ConversationID) == "" {
		return nil, ErrInvalidInput
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("answer pipeline panicked",
				zap.String("conversation_id", in.ConversationID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			reply, err = &Reply{Text: GenericApology, Source: SourceAI}, nil
		}
	}()

	state, err := s.acquire(in.ConversationID, in.UserID)
	if err != nil {
		return nil, err
	}
	if control, ok := s.command(ctx, state, question); ok {
		return control, s.stream(control.Text, onChunk)
	}

	reply = s.answer(ctx, state, in.UserID, question)
	return reply, s.stream(reply.Text, onChunk)
}

func (s *AnswerService) answer(ctx context.Context, state *conversation.State, userID, question string) *Reply {
	if entry, ok := state.Lookup(question); ok {
		metrics.CacheHits.Inc()
		s.finish(ctx, state, userID, question, entry)
		return &Reply{Text: entry.Text, Source: SourceTag(entry.Source), Cached: true}
	}

	history := state.History()
	tier := s.resolver.ResolveUserTier(userID)

	var (
		retrieval RetrievalResult
		analysis  AnalysisResult
	)
	if tier == access.FallbackTier {
		s.logger.Debug("fallback tier, skipping evidence tools", zap.String("conversation_id", state.ID()))
	} else {
		// A panicking tool leaves its zero value, which is its sentinel.
		var g errgroup.Group
		safeGo(&g, s.logger, "retrieval", func() error {
			retrieval = s.retriever.Search(ctx, question, history, s.opts.TopK, tier)
			return nil
		})
		safeGo(&g, s.logger, "analysis", func() error {
			analysis = s.analyzer.Analyze(ctx, question, history, tier)
			return nil
		})
		_ = g.Wait()
	}

	final := s.synthesizer.Synthesize(ctx, question, retrieval, analysis, history)
	entry := conversation.Entry{
		RetrievalText:  retrieval.Text,
		AnalysisCode:   analysis.Code,
		AnalysisOutput: analysis.Output,
		Body:           final.Body,
		Source:         string(final.Source),
		Text:           final.Text,
	}
	if final.Degraded() {
		s.logger.Debug("degraded answer not cached", zap.String("conversation_id", state.ID()))
	} else {
		state.Remember(question, entry)
	}
	s.finish(ctx, state, userID, question, entry)
	return &Reply{Text: final.Text, Source: final.Source}
}

// finish records the exchange in history, the transcript mirror and the
// audit sink. Mirror and audit failures are logged only.
func (s *AnswerService) finish(ctx context.Context, state *conversation.State, userID, question string, entry conversation.Entry) {
	remembered := entry.Body + "\n\n" + markerPrefix + entry.Source
	state.Record(question, remembered, s.registry.Now())
	metrics.AnswerSources.WithLabelValues(entry.Source).Inc()

	if s.transcript != nil {
		err := s.transcript.Append(ctx, state.Owner(), state.ID(),
			conversation.Turn{Role: conversation.RoleUser, Content: question},
			conversation.Turn{Role: conversation.RoleAssistant, Content: entry.Text},
		)
		if err != nil {
			s.logger.Warn("append transcript failed", zap.String("conversation_id", state.ID()), zap.Error(err))
		}
	}

	if s.sink != nil {
		tag := SourceTag(entry.Source)
		record := audit.NewRecord(state.ID(), userID, question, entry.Body, entry.Source,
			evidenceSections(tag, entry.RetrievalText, entry.AnalysisCode, entry.AnalysisOutput),
			state.Exchanges(),
		)
		if err := s.sink.Append(ctx, record); err != nil {
			s.logger.Warn("audit append failed", zap.String("conversation_id", state.ID()), zap.Error(err))
		}
	}
}

func (s *AnswerService) command(ctx context.Context, state *conversation.State, question string) (*Reply, bool) {
	normalized := conversation.NormalizeKey(question)
	for _, phrase := range s.opts.ResetPhrases {
		if normalized == strings.ToLower(strings.TrimSpace(phrase)) {
			s.reset(ctx, state)
			return &Reply{Text: resetReply, Control: true}, true
		}
	}

	prefix := strings.ToLower(strings.TrimSpace(s.opts.ExportPrefix))
	if normalized != prefix && !strings.HasPrefix(normalized, prefix+" ") {
		return nil, false
	}
	if s.exporter == nil {
		return &Reply{Text: exportUnavailable, Control: true}, true
	}
	out, err := s.exporter.Export(ctx, state.ID(), question, state.History())
	if err != nil {
		s.logger.Warn("export failed", zap.String("conversation_id", state.ID()), zap.Error(err))
		return &Reply{Text: GenericApology, Control: true}, true
	}
	return &Reply{Text: out, Control: true}, true
}

// Reset clears the history and cache of a conversation owned by userID.
func (s *AnswerService) Reset(ctx context.Context, userID, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrInvalidInput
	}
	state, err := s.acquire(conversationID, userID)
	if err != nil {
		return err
	}
	s.reset(ctx, state)
	return nil
}

func (s *AnswerService) acquire(conversationID, userID string) (*conversation.State, error) {
	state, err := s.registry.Acquire(conversationID, userID)
	if err != nil {
		s.logger.Warn("conversation used by another user",
			zap.String("conversation_id", conversationID),
			zap.String("user_id", userID),
		)
		return nil, fmt.Errorf("acquire conversation failed: %w", err)
	}
	return state, nil
}

func (s *AnswerService) reset(ctx context.Context, state *conversation.State) {
	state.Reset(s.registry.Now())
	if s.transcript != nil {
		if err := s.transcript.Delete(ctx, state.Owner(), state.ID()); err != nil {
			s.logger.Warn("delete transcript failed", zap.String("conversation_id", state.ID()), zap.Error(err))
		}
	}
	s.logger.Info("conversation reset", zap.String("conversation_id", state.ID()))
}

func (s *AnswerService) stream(text string, onChunk func(string) error) error {
	if onChunk == nil {
		return nil
	}
	for _, chunk := range chunkText(text, s.opts.ChunkRunes) {
		if err := onChunk(chunk); err != nil {
			return fmt.Errorf("stream answer failed: %w", err)
		}
	}
	return nil
}

// chunkText cuts text after the first whitespace once a piece holds at least
// size runes. The pieces concatenate back to text.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var (
		chunks []string
		start  int
		count  int
	)
	for i, r := range text {
		count++
		if count >= size && unicode.IsSpace(r) {
			end := i + utf8.RuneLen(r)
			chunks = append(chunks, text[start:end])
			start, count = end, 0
		}
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}
