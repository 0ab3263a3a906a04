package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/internal/repository/model"
	"github.com/pion/webrtc/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultPollInterval = 250 * time.Millisecond

// PostgresSignalingStore keeps call sessions in PostgreSQL. Subscriptions poll the
// tables because the relational store has no push channel for row changes.
type PostgresSignalingStore struct {
	db       *gorm.DB
	interval time.Duration
	log      *slog.Logger
}

func NewPostgresSignalingStore(db *gorm.DB, pollInterval time.Duration, log *slog.Logger) *PostgresSignalingStore {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresSignalingStore{db: db, interval: pollInterval, log: log}
}

func (s *PostgresSignalingStore) Session(conversationID string) SessionStore {
	return &postgresSessionStore{store: s, id: conversationID}
}

func (s *PostgresSignalingStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresSignalingStore) SubscribeIncoming(ctx context.Context, calleeID string, cb func([]domain.IncomingCall)) (Subscription, error) {
	const op = "repository.postgres.subscribeIncoming"
	load := func(ctx context.Context) ([]domain.IncomingCall, error) {
		return s.incoming(ctx, calleeID)
	}
	initial, err := load(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	log := s.log.With(slog.String("op", op), slog.String("callee_id", calleeID))
	go watchIncoming(pollCtx, s.interval, log, initial, load, cb)

	return &cancelSubscription{cancel: cancel}, nil
}

func (s *PostgresSignalingStore) incoming(ctx context.Context, calleeID string) ([]domain.IncomingCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []model.CallSession
	err := s.db.WithContext(ctx).
		Where("callee_id = ? AND status = ?", calleeID, string(domain.SessionStatusOffering)).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	sessions := make([]*domain.CallSession, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, toDomainSession(&rows[i]))
	}
	return domain.IncomingFor(calleeID, sessions), nil
}

type postgresSessionStore struct {
	store *PostgresSignalingStore
	id    string
}

func (r *postgresSessionStore) PublishSession(ctx context.Context, session *domain.CallSession) error {
	const op = "repository.postgres.publishSession"
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil {
		return errors.New("session is nil")
	}

	row := toModelSession(r.id, session)
	res := r.store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return unavailable(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionExists
	}
	return nil
}

func (r *postgresSessionStore) GetSession(ctx context.Context) (*domain.CallSession, error) {
	const op = "repository.postgres.getSession"
	row, err := r.load(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	if row == nil {
		return nil, domain.ErrSessionNotFound
	}
	return toDomainSession(row), nil
}

func (r *postgresSessionStore) UpdateSession(ctx context.Context, patch domain.SessionPatch) error {
	const op = "repository.postgres.updateSession"
	if err := ctx.Err(); err != nil {
		return err
	}

	updates := map[string]any{
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	}
	if patch.Answer != nil {
		updates["answer_type"] = patch.Answer.Type.String()
		updates["answer_sdp"] = patch.Answer.SDP
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}

	res := r.store.db.WithContext(ctx).Model(&model.CallSession{}).Where("id = ?", r.id).Updates(updates)
	if res.Error != nil {
		return unavailable(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *postgresSessionStore) DeleteSession(ctx context.Context) error {
	const op = "repository.postgres.deleteSession"
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", r.id).Delete(&model.IceCandidate{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", r.id).Delete(&model.CallSession{}).Error
	})
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *postgresSessionStore) SubscribeSession(ctx context.Context, cb func(*domain.CallSession)) (Subscription, error) {
	const op = "repository.postgres.subscribeSession"
	initial, err := r.load(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	log := r.store.log.With(slog.String("op", op), slog.String("session_id", r.id))
	go watchSession(pollCtx, r.store.interval, log, initial, r.load, cb)

	return &cancelSubscription{cancel: cancel}, nil
}

func (r *postgresSessionStore) AddCandidate(ctx context.Context, role domain.Role, candidate webrtc.ICECandidateInit) error {
	const op = "repository.postgres.addCandidate"
	if err := ctx.Err(); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("unknown candidate role %q", role)
	}

	row := &model.IceCandidate{
		ID:               uuid.New(),
		SessionID:        r.id,
		Role:             string(role),
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
		CreatedAt:        time.Now().UTC(),
	}
	if err := r.store.db.WithContext(ctx).Create(row).Error; err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *postgresSessionStore) SubscribeCandidates(ctx context.Context, role domain.Role, cb func([]domain.IceCandidate)) (Subscription, error) {
	const op = "repository.postgres.subscribeCandidates"
	initial, err := r.candidatesAfter(ctx, role, 0)
	if err != nil {
		return nil, unavailable(op, err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	log := r.store.log.With(slog.String("op", op), slog.String("session_id", r.id), slog.String("role", string(role)))
	load := func(ctx context.Context, after int64) ([]domain.IceCandidate, error) {
		return r.candidatesAfter(ctx, role, after)
	}
	go watchCandidates(pollCtx, r.store.interval, log, initial, load, cb)

	return &cancelSubscription{cancel: cancel}, nil
}

func (r *postgresSessionStore) load(ctx context.Context) (*model.CallSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var row model.CallSession
	err := r.store.db.WithContext(ctx).First(&row, "id = ?", r.id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *postgresSessionStore) candidatesAfter(ctx context.Context, role domain.Role, seq int64) ([]domain.IceCandidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []model.IceCandidate
	err := r.store.db.WithContext(ctx).
		Where("session_id = ? AND role = ? AND seq > ?", r.id, string(role), seq).
		Order("seq asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.IceCandidate, 0, len(rows))
	for i := range rows {
		result = append(result, toDomainCandidate(&rows[i]))
	}
	return result, nil
}

type cancelSubscription struct {
	once   sync.Once
	cancel context.CancelFunc
}

func (s *cancelSubscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

// PostgresConversationRepository persists missed-call bookkeeping.
type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewPostgresConversationRepository(db *gorm.DB) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) AppendSystemMessage(ctx context.Context, msg *domain.SystemMessage) error {
	const op = "repository.postgres.appendSystemMessage"
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg == nil {
		return errors.New("message is nil")
	}

	row := &model.Message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		IsSystem:       msg.IsSystem,
		CreatedAt:      msg.CreatedAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *PostgresConversationRepository) RecordMissedCall(ctx context.Context, conversationID, senderID, recipientID, text string, at time.Time) error {
	const op = "repository.postgres.recordMissedCall"
	if err := ctx.Err(); err != nil {
		return err
	}

	at = at.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := &model.Conversation{
			ID:                  conversationID,
			LastMessage:         text,
			LastMessageSenderID: senderID,
			LastMessageAt:       &at,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_message", "last_message_sender_id", "last_message_at", "updated_at"}),
		}).Create(conv).Error
		if err != nil {
			return err
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "participant_id"}},
			DoUpdates: clause.Assignments(map[string]any{"count": gorm.Expr("unread_counts.count + 1")}),
		}).Create(&model.UnreadCount{
			ConversationID: conversationID,
			ParticipantID:  recipientID,
			Count:          1,
		}).Error
	})
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *PostgresConversationRepository) GetSummary(ctx context.Context, conversationID string) (*domain.ConversationSummary, error) {
	const op = "repository.postgres.getSummary"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var conv model.Conversation
	err := r.db.WithContext(ctx).Preload("UnreadCounts").First(&conv, "id = ?", conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, unavailable(op, err)
	}

	summary := &domain.ConversationSummary{
		ConversationID:      conv.ID,
		LastMessage:         conv.LastMessage,
		LastMessageSenderID: conv.LastMessageSenderID,
		UnreadCounts:        make(map[string]int, len(conv.UnreadCounts)),
	}
	if conv.LastMessageAt != nil {
		summary.LastMessageAt = conv.LastMessageAt.UTC()
	}
	for _, u := range conv.UnreadCounts {
		summary.UnreadCounts[u.ParticipantID] = u.Count
	}
	return summary, nil
}

func toModelSession(id string, s *domain.CallSession) *model.CallSession {
	row := &model.CallSession{
		ID:         id,
		CallerID:   s.CallerID,
		CallerName: s.CallerName,
		CalleeID:   s.CalleeID,
		CalleeName: s.CalleeName,
		Kind:       string(s.Kind),
		Status:     string(s.Status),
		Version:    1,
		CreatedAt:  s.CreatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if s.Offer != nil {
		t, sdp := s.Offer.Type.String(), s.Offer.SDP
		row.OfferType, row.OfferSDP = &t, &sdp
	}
	if s.Answer != nil {
		t, sdp := s.Answer.Type.String(), s.Answer.SDP
		row.AnswerType, row.AnswerSDP = &t, &sdp
	}
	return row
}

func toDomainSession(row *model.CallSession) *domain.CallSession {
	if row == nil {
		return nil
	}
	s := &domain.CallSession{
		ID:         row.ID,
		CallerID:   row.CallerID,
		CallerName: row.CallerName,
		CalleeID:   row.CalleeID,
		CalleeName: row.CalleeName,
		Kind:       domain.CallKind(row.Kind),
		Status:     domain.SessionStatus(row.Status),
		CreatedAt:  row.CreatedAt.UTC(),
	}
	if row.OfferSDP != nil && row.OfferType != nil {
		s.Offer = &webrtc.SessionDescription{Type: webrtc.NewSDPType(*row.OfferType), SDP: *row.OfferSDP}
	}
	if row.AnswerSDP != nil && row.AnswerType != nil {
		s.Answer = &webrtc.SessionDescription{Type: webrtc.NewSDPType(*row.AnswerType), SDP: *row.AnswerSDP}
	}
	return s
}

func toDomainCandidate(row *model.IceCandidate) domain.IceCandidate {
	return domain.IceCandidate{
		ID:        row.ID.String(),
		SessionID: row.SessionID,
		Role:      domain.Role(row.Role),
		Init: webrtc.ICECandidateInit{
			Candidate:        row.Candidate,
			SDPMid:           row.SDPMid,
			SDPMLineIndex:    row.SDPMLineIndex,
			UsernameFragment: row.UsernameFragment,
		},
		Seq:       row.Seq,
		CreatedAt: row.CreatedAt.UTC(),
	}
}
