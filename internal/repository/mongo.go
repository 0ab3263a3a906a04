package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/marketcall/internal/domain"
	"github.com/immxrtalbeast/marketcall/lib/logger/sl"
	"github.com/pion/webrtc/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoSessionsCollName   = "call_sessions"
	mongoCandidatesCollName = "ice_candidates"
	mongoCountersCollName   = "ice_candidate_counters"
	mongoMessagesCollName   = "messages"
	mongoConvsCollName      = "conversations"
)

// MongoSignalingStore relays signaling through MongoDB. Subscriptions use change
// streams, so the deployment must run as a replica set.
type MongoSignalingStore struct {
	client         *mongo.Client
	db             *mongo.Database
	sessionsColl   *mongo.Collection
	candidatesColl *mongo.Collection
	countersColl   *mongo.Collection
	log            *slog.Logger
}

func NewMongoSignalingStore(ctx context.Context, uri, database string, log *slog.Logger) (*MongoSignalingStore, error) {
	const op = "repository.mongo.new"
	if log == nil {
		log = slog.Default()
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable(op, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(op, err)
	}

	db := client.Database(database)
	store := &MongoSignalingStore{
		client:         client,
		db:             db,
		sessionsColl:   db.Collection(mongoSessionsCollName),
		candidatesColl: db.Collection(mongoCandidatesCollName),
		countersColl:   db.Collection(mongoCountersCollName),
		log:            log,
	}

	if _, err := store.candidatesColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "role", Value: 1}, {Key: "seq", Value: 1}},
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(op, err)
	}
	if _, err := store.sessionsColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "callee_id", Value: 1}, {Key: "status", Value: 1}},
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(op, err)
	}

	return store, nil
}

// Database is the database the store signals through. Conversation bookkeeping
// lives next to it so both agents of a call see the same records.
func (s *MongoSignalingStore) Database() *mongo.Database {
	return s.db
}

func (s *MongoSignalingStore) Session(conversationID string) SessionStore {
	return &mongoSessionStore{store: s, id: conversationID}
}

func (s *MongoSignalingStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoSignalingStore) SubscribeIncoming(ctx context.Context, calleeID string, cb func([]domain.IncomingCall)) (Subscription, error) {
	const op = "repository.mongo.subscribeIncoming"

	// delete events carry no document, so every delete triggers a reload
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: "fullDocument.callee_id", Value: calleeID}},
		bson.D{{Key: "operationType", Value: "delete"}},
	}}}}}}
	cs, err := s.sessionsColl.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, unavailable(op, err)
	}

	initial, err := s.incoming(ctx, calleeID)
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, unavailable(op, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	log := s.log.With(slog.String("op", op), slog.String("callee_id", calleeID))

	go func() {
		defer cs.Close(context.Background())

		feed := &incomingFeed{last: initial, cb: cb}
		cb(initial)

		for cs.Next(streamCtx) {
			calls, err := s.incoming(streamCtx, calleeID)
			if err != nil {
				if streamCtx.Err() == nil {
					log.Warn("failed to reload incoming calls", sl.Err(err))
				}
				continue
			}
			feed.observe(calls)
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			log.Error("change stream stopped", sl.Err(err))
		}
	}()

	return &cancelSubscription{cancel: cancel}, nil
}

func (s *MongoSignalingStore) incoming(ctx context.Context, calleeID string) ([]domain.IncomingCall, error) {
	cursor, err := s.sessionsColl.Find(ctx,
		bson.D{{Key: "callee_id", Value: calleeID}, {Key: "status", Value: string(domain.SessionStatusOffering)}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []mongoCallSession
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	sessions := make([]*domain.CallSession, 0, len(docs))
	for i := range docs {
		sessions = append(sessions, fromMongoSession(&docs[i]))
	}
	return domain.IncomingFor(calleeID, sessions), nil
}

type mongoDescription struct {
	Type string `bson:"type"`
	SDP  string `bson:"sdp"`
}

type mongoCallSession struct {
	ID         string            `bson:"_id"`
	CallerID   string            `bson:"caller_id"`
	CallerName string            `bson:"caller_name"`
	CalleeID   string            `bson:"callee_id"`
	CalleeName string            `bson:"callee_name"`
	Kind       string            `bson:"call_type"`
	Offer      *mongoDescription `bson:"offer,omitempty"`
	Answer     *mongoDescription `bson:"answer,omitempty"`
	Status     string            `bson:"status"`
	CreatedAt  time.Time         `bson:"created_at"`
}

type mongoICECandidate struct {
	ID               string    `bson:"_id"`
	SessionID        string    `bson:"session_id"`
	Role             string    `bson:"role"`
	Seq              int64     `bson:"seq"`
	Candidate        string    `bson:"candidate"`
	SDPMid           *string   `bson:"sdp_mid,omitempty"`
	SDPMLineIndex    *uint16   `bson:"sdp_mline_index,omitempty"`
	UsernameFragment *string   `bson:"username_fragment,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
}

type mongoSessionEvent struct {
	OperationType string            `bson:"operationType"`
	FullDocument  *mongoCallSession `bson:"fullDocument"`
}

type mongoCandidateEvent struct {
	FullDocument *mongoICECandidate `bson:"fullDocument"`
}

type mongoSessionStore struct {
	store *MongoSignalingStore
	id    string
}

func (r *mongoSessionStore) PublishSession(ctx context.Context, session *domain.CallSession) error {
	const op = "repository.mongo.publishSession"
	if session == nil {
		return errors.New("session is nil")
	}

	doc := toMongoSession(r.id, session)
	if _, err := r.store.sessionsColl.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrSessionExists
		}
		return unavailable(op, err)
	}
	return nil
}

func (r *mongoSessionStore) GetSession(ctx context.Context) (*domain.CallSession, error) {
	const op = "repository.mongo.getSession"
	doc, err := r.load(ctx)
	if err != nil {
		return nil, unavailable(op, err)
	}
	if doc == nil {
		return nil, domain.ErrSessionNotFound
	}
	return fromMongoSession(doc), nil
}

func (r *mongoSessionStore) UpdateSession(ctx context.Context, patch domain.SessionPatch) error {
	const op = "repository.mongo.updateSession"
	set := bson.D{}
	if patch.Answer != nil {
		set = append(set, bson.E{Key: "answer", Value: mongoDescription{Type: patch.Answer.Type.String(), SDP: patch.Answer.SDP}})
	}
	if patch.Status != nil {
		set = append(set, bson.E{Key: "status", Value: string(*patch.Status)})
	}
	if len(set) == 0 {
		return nil
	}

	res, err := r.store.sessionsColl.UpdateOne(ctx, bson.D{{Key: "_id", Value: r.id}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return unavailable(op, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *mongoSessionStore) DeleteSession(ctx context.Context) error {
	return deleteSessionDocs(ctx, r.store.sessionsColl, r.store.candidatesColl, r.id)
}

type mongoDeleter interface {
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// deleteSessionDocs clears the candidates before the session so that a session
// published right after the delete never loses candidates to it. The seq counters
// are kept, keeping seq monotonic across sessions of one conversation.
func deleteSessionDocs(ctx context.Context, sessions, candidates mongoDeleter, id string) error {
	const op = "repository.mongo.deleteSession"
	if _, err := candidates.DeleteMany(ctx, bson.D{{Key: "session_id", Value: id}}); err != nil {
		return unavailable(op, err)
	}
	if _, err := sessions.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *mongoSessionStore) SubscribeSession(ctx context.Context, cb func(*domain.CallSession)) (Subscription, error) {
	const op = "repository.mongo.subscribeSession"

	// the stream is opened before the initial read so no change falls between them
	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: r.id}}}}}
	cs, err := r.store.sessionsColl.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, unavailable(op, err)
	}

	initial, err := r.load(ctx)
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, unavailable(op, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	log := r.store.log.With(slog.String("op", op), slog.String("session_id", r.id))

	go func() {
		defer cs.Close(context.Background())

		if initial != nil {
			cb(fromMongoSession(initial))
		} else {
			cb(nil)
		}

		for cs.Next(streamCtx) {
			var event mongoSessionEvent
			if err := cs.Decode(&event); err != nil {
				log.Warn("failed to decode change event", sl.Err(err))
				continue
			}
			switch event.OperationType {
			case "delete":
				cb(nil)
			case "insert", "update", "replace":
				if event.FullDocument == nil {
					continue
				}
				cb(fromMongoSession(event.FullDocument))
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			log.Error("change stream stopped", sl.Err(err))
		}
	}()

	return &cancelSubscription{cancel: cancel}, nil
}

func (r *mongoSessionStore) AddCandidate(ctx context.Context, role domain.Role, candidate webrtc.ICECandidateInit) error {
	const op = "repository.mongo.addCandidate"
	if !role.Valid() {
		return fmt.Errorf("unknown candidate role %q", role)
	}

	seq, err := r.nextSeq(ctx, role)
	if err != nil {
		return unavailable(op, err)
	}

	doc := mongoICECandidate{
		ID:               uuid.NewString(),
		SessionID:        r.id,
		Role:             string(role),
		Seq:              seq,
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
		CreatedAt:        time.Now().UTC(),
	}
	if _, err := r.store.candidatesColl.InsertOne(ctx, doc); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *mongoSessionStore) SubscribeCandidates(ctx context.Context, role domain.Role, cb func([]domain.IceCandidate)) (Subscription, error) {
	const op = "repository.mongo.subscribeCandidates"

	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: bson.D{
		{Key: "operationType", Value: "insert"},
		{Key: "fullDocument.session_id", Value: r.id},
		{Key: "fullDocument.role", Value: string(role)},
	}}}}
	cs, err := r.store.candidatesColl.Watch(ctx, pipeline)
	if err != nil {
		return nil, unavailable(op, err)
	}

	cursor, err := r.store.candidatesColl.Find(ctx,
		bson.D{{Key: "session_id", Value: r.id}, {Key: "role", Value: string(role)}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}),
	)
	if err != nil {
		_ = cs.Close(context.Background())
		return nil, unavailable(op, err)
	}
	var existing []mongoICECandidate
	if err := cursor.All(ctx, &existing); err != nil {
		_ = cs.Close(context.Background())
		return nil, unavailable(op, err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	log := r.store.log.With(slog.String("op", op), slog.String("session_id", r.id), slog.String("role", string(role)))

	go func() {
		defer cs.Close(context.Background())

		var cursor candidateCursor
		batch := make([]domain.IceCandidate, 0, len(existing))
		for i := range existing {
			batch = append(batch, fromMongoCandidate(&existing[i]))
		}
		if fresh := cursor.advance(batch); len(fresh) > 0 {
			cb(fresh)
		}

		for cs.Next(streamCtx) {
			var event mongoCandidateEvent
			if err := cs.Decode(&event); err != nil {
				log.Warn("failed to decode change event", sl.Err(err))
				continue
			}
			if event.FullDocument == nil {
				continue
			}
			if fresh := cursor.advance([]domain.IceCandidate{fromMongoCandidate(event.FullDocument)}); len(fresh) > 0 {
				cb(fresh)
			}
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			log.Error("change stream stopped", sl.Err(err))
		}
	}()

	return &cancelSubscription{cancel: cancel}, nil
}

func (r *mongoSessionStore) load(ctx context.Context) (*mongoCallSession, error) {
	var doc mongoCallSession
	err := r.store.sessionsColl.FindOne(ctx, bson.D{{Key: "_id", Value: r.id}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (r *mongoSessionStore) nextSeq(ctx context.Context, role domain.Role) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.store.countersColl.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: r.id + "/" + string(role)}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "seq", Value: int64(1)}}},
			{Key: "$setOnInsert", Value: bson.D{{Key: "session_id", Value: r.id}}},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, err
	}
	return counter.Seq, nil
}

func toMongoSession(id string, s *domain.CallSession) mongoCallSession {
	doc := mongoCallSession{
		ID:         id,
		CallerID:   s.CallerID,
		CallerName: s.CallerName,
		CalleeID:   s.CalleeID,
		CalleeName: s.CalleeName,
		Kind:       string(s.Kind),
		Status:     string(s.Status),
		CreatedAt:  s.CreatedAt.UTC(),
	}
	if s.Offer != nil {
		doc.Offer = &mongoDescription{Type: s.Offer.Type.String(), SDP: s.Offer.SDP}
	}
	if s.Answer != nil {
		doc.Answer = &mongoDescription{Type: s.Answer.Type.String(), SDP: s.Answer.SDP}
	}
	return doc
}

func fromMongoSession(doc *mongoCallSession) *domain.CallSession {
	s := &domain.CallSession{
		ID:         doc.ID,
		CallerID:   doc.CallerID,
		CallerName: doc.CallerName,
		CalleeID:   doc.CalleeID,
		CalleeName: doc.CalleeName,
		Kind:       domain.CallKind(doc.Kind),
		Status:     domain.SessionStatus(doc.Status),
		CreatedAt:  doc.CreatedAt.UTC(),
	}
	if doc.Offer != nil {
		s.Offer = &webrtc.SessionDescription{Type: webrtc.NewSDPType(doc.Offer.Type), SDP: doc.Offer.SDP}
	}
	if doc.Answer != nil {
		s.Answer = &webrtc.SessionDescription{Type: webrtc.NewSDPType(doc.Answer.Type), SDP: doc.Answer.SDP}
	}
	return s
}

func fromMongoCandidate(doc *mongoICECandidate) domain.IceCandidate {
	return domain.IceCandidate{
		ID:        doc.ID,
		SessionID: doc.SessionID,
		Role:      domain.Role(doc.Role),
		Init: webrtc.ICECandidateInit{
			Candidate:        doc.Candidate,
			SDPMid:           doc.SDPMid,
			SDPMLineIndex:    doc.SDPMLineIndex,
			UsernameFragment: doc.UsernameFragment,
		},
		Seq:       doc.Seq,
		CreatedAt: doc.CreatedAt.UTC(),
	}
}


type mongoMessage struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	SenderID       string    `bson:"sender_id"`
	Text           string    `bson:"text"`
	IsSystem       bool      `bson:"is_system"`
	CreatedAt      time.Time `bson:"created_at"`
}

type mongoConversation struct {
	ID                  string         `bson:"_id"`
	LastMessage         string         `bson:"last_message"`
	LastMessageSenderID string         `bson:"last_message_sender_id"`
	LastMessageAt       time.Time      `bson:"last_message_at"`
	UnreadCounts        map[string]int `bson:"unread_counts"`
}

// MongoConversationRepository keeps missed-call bookkeeping in the signaling database.
type MongoConversationRepository struct {
	messagesColl      *mongo.Collection
	conversationsColl *mongo.Collection
}

func NewMongoConversationRepository(db *mongo.Database) *MongoConversationRepository {
	return &MongoConversationRepository{
		messagesColl:      db.Collection(mongoMessagesCollName),
		conversationsColl: db.Collection(mongoConvsCollName),
	}
}

func (r *MongoConversationRepository) AppendSystemMessage(ctx context.Context, msg *domain.SystemMessage) error {
	const op = "repository.mongo.appendSystemMessage"
	if msg == nil {
		return errors.New("message is nil")
	}

	doc := mongoMessage{
		ID:             msg.ID.String(),
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		IsSystem:       msg.IsSystem,
		CreatedAt:      msg.CreatedAt.UTC(),
	}
	if _, err := r.messagesColl.InsertOne(ctx, doc); err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *MongoConversationRepository) RecordMissedCall(ctx context.Context, conversationID, senderID, recipientID, text string, at time.Time) error {
	const op = "repository.mongo.recordMissedCall"
	_, err := r.conversationsColl.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: conversationID}},
		missedCallUpdate(senderID, recipientID, text, at),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

func (r *MongoConversationRepository) GetSummary(ctx context.Context, conversationID string) (*domain.ConversationSummary, error) {
	const op = "repository.mongo.getSummary"
	var doc mongoConversation
	err := r.conversationsColl.FindOne(ctx, bson.D{{Key: "_id", Value: conversationID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, unavailable(op, err)
	}
	return fromMongoConversation(&doc), nil
}

func missedCallUpdate(senderID, recipientID, text string, at time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "last_message", Value: text},
			{Key: "last_message_sender_id", Value: senderID},
			{Key: "last_message_at", Value: at.UTC()},
		}},
		{Key: "$inc", Value: bson.D{{Key: "unread_counts." + recipientID, Value: 1}}},
	}
}

func fromMongoConversation(doc *mongoConversation) *domain.ConversationSummary {
	summary := &domain.ConversationSummary{
		ConversationID:      doc.ID,
		LastMessage:         doc.LastMessage,
		LastMessageSenderID: doc.LastMessageSenderID,
		LastMessageAt:       doc.LastMessageAt.UTC(),
		UnreadCounts:        make(map[string]int, len(doc.UnreadCounts)),
	}
	for k, v := range doc.UnreadCounts {
		summary.UnreadCounts[k] = v
	}
	return summary
}
