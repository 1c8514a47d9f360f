package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/types"
)

func (s *Session) authenticate(ctx context.Context, data json.RawMessage) {
	if s.state != Unauthenticated {
		s.sendError(ErrAlreadyAuthenticated)
		return
	}
	in := types.IncomingAuth{}
	credential, err := decodeText(data, &in, func() string { return in.Token })
	if err != nil {
		s.send(types.EventAuthError, types.ErrorPayload{Message: authFailedMessage})
		return
	}
	identity, err := s.c.verifier.Verify(ctx, strings.TrimSpace(credential))
	if err != nil {
		s.logger.Info("authentication failed", "error", err)
		s.send(types.EventAuthError, types.ErrorPayload{Message: authFailedMessage})
		return
	}
	s.identity = identity
	s.state = Authenticated
	s.logger = s.logger.With("user", identity.Id)
	s.c.registry.Register(identity, s.conn)
	s.send(types.EventAuthenticated, types.AuthenticatedPayload{User: identity})
	s.logger.Debug("authenticated")
	s.c.background("user", func(ctx context.Context) error {
		return s.c.docs.UpsertUser(ctx, identity)
	})
}

func (s *Session) joinRoom(data json.RawMessage) {
	if s.state == Unauthenticated {
		s.sendError(ErrNotAuthenticated)
		return
	}
	in := types.IncomingJoin{}
	code, err := decodeText(data, &in, func() string { return in.RoomCode })
	if err != nil {
		s.sendError(ErrInvalidPayload)
		return
	}
	code = strings.TrimSpace(code)
	if code == "" {
		s.sendError(ErrRoomCodeRequired)
		return
	}
	if !room.ValidCode(code) {
		s.sendError(ErrInvalidRoomCode)
		return
	}
	if s.state == InRoom && s.roomCode != code {
		s.leaveRoom()
	}

	identity := s.identity
	s.c.rooms.Sequenced(code, func() {
		count := s.c.rooms.AddParticipant(code, identity)
		s.c.fanout.Join(code, s.conn)
		snap, _ := s.c.rooms.Snapshot(code, s.c.opts.JoinHistory)
		s.send(types.EventRoomJoined, snap)
		s.c.fanout.ToRoomExcept(code, s.conn.ID(), types.EventUserJoined, types.MembershipPayload{
			User:             identity,
			ParticipantCount: count,
		})
		s.c.backgroundOrdered(code, "membership", func(ctx context.Context) error {
			return s.c.docs.UpdateMembership(ctx, code, identity.Id, true)
		})
	})
	s.state = InRoom
	s.roomCode = code
	s.c.metrics.SetRooms(s.c.rooms.Len())
	s.logger.Debug("joined room", "room", code)
}

// leaveRoom removes the session from its room and tells the remaining members.
func (s *Session) leaveRoom() {
	code := s.roomCode
	identity := s.identity
	s.c.rooms.Sequenced(code, func() {
		count := s.c.rooms.RemoveParticipant(code, identity.Id)
		s.c.fanout.Leave(code, s.conn)
		s.c.fanout.ToRoomExcept(code, s.conn.ID(), types.EventUserLeft, types.MembershipPayload{
			User:             identity,
			ParticipantCount: count,
		})
		s.c.backgroundOrdered(code, "membership", func(ctx context.Context) error {
			return s.c.docs.UpdateMembership(ctx, code, identity.Id, false)
		})
	})
	s.state = Authenticated
	s.roomCode = ""
	s.logger.Debug("left room", "room", code)
}

type incomingContest struct {
	Title       string        `mapstructure:"title"`
	Description string        `mapstructure:"description"`
	Duration    int64         `mapstructure:"duration"`
	Problems    []interface{} `mapstructure:"problems"`
}

// resolveProblems turns the problems of a start_contest payload (ids or objects) into problems. Problems
// without test cases are taken from the catalog if it has them.
func (s *Session) resolveProblems(ctx context.Context, raw []interface{}) []types.Problem {
	problems := make([]types.Problem, 0, len(raw))
	for _, r := range raw {
		p := types.Problem{}
		switch v := r.(type) {
		case string:
			p.Id = v
		default:
			if err := mapstructure.WeakDecode(v, &p); err != nil {
				s.logger.Debug("ignoring undecodable problem", "problem", v, "error", err)
				continue
			}
		}
		if p.Id == "" {
			continue
		}
		if len(p.TestCases) == 0 {
			catalog, err := s.c.docs.GetProblem(ctx, p.Id)
			if err == nil {
				p = catalog
			} else if !errors.Is(err, persistence.ErrNotFound) {
				s.logger.Warn("could not look up problem", "problem", p.Id, "error", err)
			}
		}
		problems = append(problems, p)
	}
	return problems
}

func (s *Session) startContest(ctx context.Context, data json.RawMessage) {
	if s.state != InRoom {
		return
	}
	in := incomingContest{}
	if err := decodePayload(data, &in); err != nil {
		s.sendError(ErrInvalidPayload)
		return
	}
	// catalog lookups happen before the room is locked
	problems := s.resolveProblems(ctx, in.Problems)
	duration := in.Duration
	if duration <= 0 {
		duration = s.c.opts.DefaultDuration
	}
	contest := types.Contest{
		Title:       in.Title,
		Description: in.Description,
		StartTime:   s.c.now().UTC(),
		Duration:    duration,
		IsActive:    true,
		Problems:    problems,
	}
	code := s.roomCode
	var participants []string
	s.c.rooms.Sequenced(code, func() {
		s.c.rooms.SetContest(code, contest)
		s.c.fanout.ToRoom(code, types.EventContestStarted, contest.Public())
		for _, p := range s.c.rooms.Participants(code) {
			participants = append(participants, p.Id)
		}
	})
	s.logger.Info("contest started", "room", code, "title", contest.Title, "duration", duration)
	createdBy := s.identity.Id
	s.c.background("contest", func(ctx context.Context) error {
		return s.c.docs.SaveContest(ctx, code, contest, createdBy, participants)
	})
}

func (s *Session) submitCode(ctx context.Context, data json.RawMessage) {
	if s.state != InRoom {
		return
	}
	code := s.roomCode
	contest, ok := s.c.rooms.Contest(code)
	if !ok || !contest.IsActive {
		s.sendError(ErrNoActiveContest)
		return
	}
	in := types.IncomingSubmission{}
	if err := decodePayload(data, &in); err != nil {
		s.sendError(ErrInvalidPayload)
		return
	}
	if in.ProblemId == "" || in.Code == "" || in.Language == "" {
		s.sendError(ErrInvalidSubmission)
		return
	}
	sub, err := s.c.docs.CreateSubmission(ctx, types.Submission{
		UserId:    s.identity.Id,
		RoomCode:  code,
		ProblemId: in.ProblemId,
		Code:      in.Code,
		Language:  in.Language,
	})
	if err != nil {
		s.logger.Error("could not create submission", "room", code, "error", err)
		s.sendError(ErrSubmitFailed)
		return
	}
	s.send(types.EventSubmissionReceived, types.SubmissionReceivedPayload{SubmissionId: sub.Id})
	identity := s.identity
	s.c.rooms.Sequenced(code, func() {
		count, _ := s.c.rooms.RecordSubmission(code, identity.Id, s.c.now())
		s.c.fanout.ToRoomExcept(code, s.conn.ID(), types.EventNewSubmission, types.NewSubmissionPayload{
			User:            identity.Name,
			SubmissionCount: count,
		})
	})
	if s.c.grader == nil {
		return
	}
	if !s.c.grader.Enqueue(sub) {
		s.logger.Warn("grading queue full", "submission", sub.Id)
		s.send(types.EventSubmissionError, types.SubmissionErrorPayload{
			SubmissionId: sub.Id,
			UserId:       identity.Id,
			Error:        ClientMessage(ErrGradingUnavailable),
		})
		s.c.background("submission", func(ctx context.Context) error {
			return s.c.docs.FailSubmission(ctx, sub.Id, ErrGradingUnavailable.Error())
		})
	}
}

func (s *Session) sendMessage(data json.RawMessage) {
	if s.state != InRoom {
		return
	}
	in := types.IncomingChat{}
	text, err := decodeText(data, &in, func() string { return in.Message })
	if err != nil {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	code := s.roomCode
	msg := types.ChatMessage{
		Id:        uuid.New().String(),
		UserId:    s.identity.Id,
		User:      s.identity.Name,
		Avatar:    s.identity.Avatar,
		Message:   text,
		Timestamp: types.Timestamp(s.c.now()),
	}
	s.c.rooms.Sequenced(code, func() {
		s.c.rooms.AppendMessage(code, msg)
		s.c.fanout.ToRoom(code, types.EventNewMessage, msg)
	})
	s.c.background("message", func(ctx context.Context) error {
		return s.c.docs.AddMessage(ctx, code, msg)
	})
}

func (s *Session) updateLeaderboard(data json.RawMessage) {
	if s.state != InRoom {
		return
	}
	entries := make([]types.LeaderboardEntry, 0)
	if err := decodePayload(data, &entries); err != nil {
		s.sendError(ErrInvalidPayload)
		return
	}
	code := s.roomCode
	s.c.rooms.Sequenced(code, func() {
		s.c.rooms.SetLeaderboard(code, entries)
		s.c.fanout.ToRoom(code, types.EventLeaderboardUpdated, entries)
	})
}
