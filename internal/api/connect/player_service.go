package connect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/tilawa/internal/app/notification"
	"github.com/osa030/tilawa/internal/app/transport"
	"github.com/osa030/tilawa/internal/domain/verse"
)

// Message is the request and response type of every procedure.
type Message = structpb.Struct

// PlayerService implements the PlayerService RPC.
type PlayerService struct {
	ctrl     *transport.Controller
	notifier *notification.Manager
	done     <-chan struct{}
	validate *validator.Validate
}

// NewPlayerService creates a new PlayerService. Open status streams end when
// done is closed.
func NewPlayerService(ctrl *transport.Controller, notifier *notification.Manager, done <-chan struct{}) *PlayerService {
	return &PlayerService{
		ctrl:     ctrl,
		notifier: notifier,
		done:     done,
		validate: validator.New(),
	}
}

// Argument fields are pointers so that a missing argument is told apart from
// a zero value; range checks are left to the controller.
type setRateArgs struct {
	Rate *float64 `mapstructure:"rate" validate:"required"`
}

type seekArgs struct {
	Index *int `mapstructure:"index" validate:"required"`
}

type selectChapterArgs struct {
	Chapter *int `mapstructure:"chapter" validate:"required"`
}

type selectReciterArgs struct {
	Reciter *string `mapstructure:"reciter" validate:"required"`
}

// NewPlayerServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	command := func(procedure string, fn func(ctx context.Context) transport.Result) http.Handler {
		return connect.NewUnaryHandler(procedure, func(ctx context.Context, req *connect.Request[Message]) (*connect.Response[Message], error) {
			return svc.respond(fn(ctx))
		}, opts...)
	}

	mux := http.NewServeMux()
	mux.Handle(PlayerServiceStartProcedure, command(PlayerServiceStartProcedure, func(ctx context.Context) transport.Result {
		return svc.ctrl.Start()
	}))
	mux.Handle(PlayerServicePlayProcedure, command(PlayerServicePlayProcedure, svc.ctrl.Play))
	mux.Handle(PlayerServicePauseProcedure, command(PlayerServicePauseProcedure, func(ctx context.Context) transport.Result {
		return svc.ctrl.Pause()
	}))
	mux.Handle(PlayerServiceStopProcedure, command(PlayerServiceStopProcedure, func(ctx context.Context) transport.Result {
		return svc.ctrl.Stop()
	}))
	mux.Handle(PlayerServiceNextProcedure, command(PlayerServiceNextProcedure, svc.ctrl.Next))
	mux.Handle(PlayerServicePreviousProcedure, command(PlayerServicePreviousProcedure, svc.ctrl.Previous))
	mux.Handle(PlayerServiceToggleAmbienceProcedure, command(PlayerServiceToggleAmbienceProcedure, func(ctx context.Context) transport.Result {
		return svc.ctrl.ToggleAmbience()
	}))
	mux.Handle(PlayerServiceSetRateProcedure, connect.NewUnaryHandler(PlayerServiceSetRateProcedure, svc.SetRate, opts...))
	mux.Handle(PlayerServiceSeekProcedure, connect.NewUnaryHandler(PlayerServiceSeekProcedure, svc.Seek, opts...))
	mux.Handle(PlayerServiceSelectChapterProcedure, connect.NewUnaryHandler(PlayerServiceSelectChapterProcedure, svc.SelectChapter, opts...))
	mux.Handle(PlayerServiceSelectReciterProcedure, connect.NewUnaryHandler(PlayerServiceSelectReciterProcedure, svc.SelectReciter, opts...))
	mux.Handle(PlayerServiceGetStatusProcedure, connect.NewUnaryHandler(PlayerServiceGetStatusProcedure, svc.GetStatus, opts...))
	mux.Handle(PlayerServiceListChaptersProcedure, connect.NewUnaryHandler(PlayerServiceListChaptersProcedure, svc.ListChapters, opts...))
	mux.Handle(PlayerServiceSubscribeStatusProcedure, connect.NewServerStreamHandler(PlayerServiceSubscribeStatusProcedure, svc.SubscribeStatus, opts...))

	return "/" + PlayerServiceName + "/", mux
}

// SetRate changes the playback rate.
func (s *PlayerService) SetRate(ctx context.Context, req *connect.Request[Message]) (*connect.Response[Message], error) {
	var args setRateArgs
	if err := s.decode(req.Msg, &args); err != nil {
		return nil, err
	}
	return s.respond(s.ctrl.SetRate(*args.Rate))
}

// Seek moves to a verse by 0-based index.
func (s *PlayerService) Seek(ctx context.Context, req *connect.Request[Message]) (*connect.Response[Message], error) {
	var args seekArgs
	if err := s.decode(req.Msg, &args); err != nil {
		return nil, err
	}
	return s.respond(s.ctrl.Seek(ctx, *args.Index))
}

// SelectChapter loads a chapter for the current reciter.
func (s *PlayerService) SelectChapter(ctx context.Context, req *connect.Request[Message]) (*connect.Response[Message], error) {
	var args selectChapterArgs
	if err := s.decode(req.Msg, &args); err != nil {
		return nil, err
	}
	return s.respond(s.ctrl.SelectChapter(ctx, *args.Chapter))
}

// SelectReciter reloads the current chapter for a reciter.
func (s *PlayerService) SelectReciter(ctx context.Context, req *connect.Request[Message]) (*connect.Response[Message], error) {
	var args selectReciterArgs
	if err := s.decode(req.Msg, &args); err != nil {
		return nil, err
	}
	return s.respond(s.ctrl.SelectReciter(ctx, *args.Reciter))
}

// GetStatus returns the player status.
func (s *PlayerService) GetStatus(ctx context.Context, req *connect.Request[Message]) (*connect.Response[Message], error) {
	msg, err := structpb.NewStruct(map[string]any{
		"status": statusFields(s.ctrl.Status()),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// ListChapters returns the chapter metadata list.
func (s *PlayerService) ListChapters(ctx context.Context, req *connect.Request[Message]) (*connect.Response[Message], error) {
	chapters, result := s.ctrl.Chapters(ctx)
	list := make([]any, 0, len(chapters))
	for _, ch := range chapters {
		list = append(list, chapterFields(ch))
	}
	msg, err := structpb.NewStruct(map[string]any{
		"result":   resultFields(result),
		"chapters": list,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// SubscribeStatus streams notifications. The current status is sent first.
func (s *PlayerService) SubscribeStatus(ctx context.Context, req *connect.Request[Message], stream *connect.ServerStream[Message]) error {
	st := s.ctrl.Status()
	initial := &notification.Notification{
		Code:          "initial_state",
		State:         st.State.String(),
		Started:       st.Started,
		ChapterID:     st.Requested.ChapterID,
		ReciterID:     st.Requested.ReciterID,
		Index:         st.Index,
		Count:         st.Count,
		PerVerseAudio: st.PerVerseAudio,
		Rate:          st.Rate,
		Ambience:      st.Ambience,
		Time:          time.Now(),
	}
	if latest := s.notifier.Latest(); latest != nil {
		initial.SequenceNo = latest.SequenceNo
		initial.Message = latest.Message
	}
	if st.Verse != nil {
		initial.Ordinal = st.Verse.Ordinal
		initial.Text = st.Verse.Text
		initial.Translation = st.Verse.Translation
	}

	adapter := &notificationStreamAdapter{stream: stream}
	if err := adapter.Send(initial); err != nil {
		return err
	}

	subscriptionID := s.notifier.Subscribe(adapter)
	defer s.notifier.Unsubscribe(subscriptionID)
	zlog.Debug().Msgf("status subscriber connected: id=%s peer=%s", subscriptionID, req.Peer().Addr)

	select {
	case <-ctx.Done():
		zlog.Debug().Msgf("status subscriber disconnected: id=%s", subscriptionID)
	case <-s.done:
		zlog.Debug().Msgf("status stream closed by server: id=%s", subscriptionID)
	}
	return nil
}

// decode fills args from the request struct and validates it.
func (s *PlayerService) decode(msg *Message, args any) error {
	if err := mapstructure.Decode(msg.AsMap(), args); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, errors.Wrap(err, "failed to decode arguments"))
	}
	if err := s.validate.Struct(args); err != nil {
		return connect.NewError(connect.CodeInvalidArgument, errors.Wrap(err, "validation failed"))
	}
	return nil
}

// respond wraps a command result together with the status after it.
func (s *PlayerService) respond(result transport.Result) (*connect.Response[Message], error) {
	msg, err := structpb.NewStruct(map[string]any{
		"result": resultFields(result),
		"status": statusFields(s.ctrl.Status()),
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func resultFields(r transport.Result) map[string]any {
	return map[string]any{
		"ok":      r.OK,
		"code":    r.Code,
		"message": r.Message,
	}
}

func statusFields(st transport.Status) map[string]any {
	fields := map[string]any{
		"state":             st.State.String(),
		"started":           st.Started,
		"session_id":        st.SessionID,
		"chapter":           st.Selection.ChapterID,
		"reciter":           st.Selection.ReciterID,
		"requested_chapter": st.Requested.ChapterID,
		"requested_reciter": st.Requested.ReciterID,
		"loading":           st.Loading,
		"index":             st.Index,
		"count":             st.Count,
		"per_verse_audio":   st.PerVerseAudio,
		"rate":              st.Rate,
		"pending":           st.Pending,
		"ambience":          st.Ambience,
	}
	if st.Verse != nil {
		fields["ordinal"] = st.Verse.Ordinal
		fields["text"] = st.Verse.Text
		fields["translation"] = st.Verse.Translation
	}
	if st.LastError != nil {
		fields["last_error"] = st.LastError.Error()
	}
	return fields
}

func chapterFields(ch verse.Chapter) map[string]any {
	return map[string]any{
		"number":              ch.Number,
		"name":                ch.Name,
		"english_name":        ch.EnglishName,
		"english_translation": ch.EnglishTranslation,
		"ayah_count":          ch.AyahCount,
		"revelation_type":     ch.RevelationType,
	}
}

func notificationFields(n *notification.Notification) map[string]any {
	return map[string]any{
		"sequence_no":     float64(n.SequenceNo),
		"code":            n.Code,
		"message":         n.Message,
		"state":           n.State,
		"started":         n.Started,
		"chapter":         n.ChapterID,
		"reciter":         n.ReciterID,
		"index":           n.Index,
		"count":           n.Count,
		"ordinal":         n.Ordinal,
		"text":            n.Text,
		"translation":     n.Translation,
		"per_verse_audio": n.PerVerseAudio,
		"rate":            n.Rate,
		"ambience":        n.Ambience,
		"time":            n.Time.Format(time.RFC3339),
	}
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized because broadcasts may overlap.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[Message]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	msg, err := structpb.NewStruct(notificationFields(n))
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(msg)
}
