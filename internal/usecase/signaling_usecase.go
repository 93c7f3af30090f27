package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hoobean1996/shenbi-sub002/internal/application/constant"
	"github.com/hoobean1996/shenbi-sub002/internal/domain/events"
	"github.com/hoobean1996/shenbi-sub002/internal/infra/adapters/memory"
)

// SignalingUsecase relays SDP between an address publisher (the session
// initiator) and its dialers. It never connects two dialers to each other;
// the resulting topology is a star around the publisher.
type SignalingUsecase interface {
	HandlePublish(ctx context.Context, connID uuid.UUID, ev events.PublishEvent)
	HandleDial(ctx context.Context, connID uuid.UUID, ev events.DialEvent)
	HandleSDP(ctx context.Context, connID uuid.UUID, msgType string, ev events.SDPEvent)
	HandleCandidate(ctx context.Context, connID uuid.UUID, ev events.CandidateEvent)
	HandlePing(ctx context.Context, connID uuid.UUID)
	HandleDisconnect(ctx context.Context, connID uuid.UUID)
}

// dialPair is one live relay: the two connections allowed to exchange frames
// under a dial id.
type dialPair struct {
	publisher uuid.UUID
	dialer    uuid.UUID
}

type signalingUsecase struct {
	addressRegistry memory.AddressRegistry
	wsRepo          memory.WebsocketConnectionRepository

	// dials holds map[dial_id]dialPair
	dials map[uuid.UUID]dialPair
	mu    sync.Mutex
}

func NewSignalingUsecase(
	addressRegistry memory.AddressRegistry,
	wsRepo memory.WebsocketConnectionRepository,
) SignalingUsecase {
	return &signalingUsecase{
		addressRegistry: addressRegistry,
		wsRepo:          wsRepo,
		dials:           make(map[uuid.UUID]dialPair),
	}
}

func (s *signalingUsecase) HandlePublish(ctx context.Context, connID uuid.UUID, ev events.PublishEvent) {
	if ev.Address == "" {
		s.writeError(connID, events.ErrorCodeBadRequest, "address is required")
		return
	}

	if err := s.addressRegistry.Publish(ev.Address, connID); err != nil {
		s.writeError(connID, events.ErrorCodeAddressInUse, "address already in use")
		return
	}

	slog.Info("address published", slog.String(constant.Address, ev.Address))

	s.wsRepo.Write(connID, events.Envelope(events.TypePublished, events.PublishedEvent{Address: ev.Address}))
}

func (s *signalingUsecase) HandleDial(ctx context.Context, connID uuid.UUID, ev events.DialEvent) {
	publisherID, ok := s.addressRegistry.Resolve(ev.Address)
	if !ok {
		s.writeError(connID, events.ErrorCodeNotFound, "no publisher at address")
		return
	}

	dialID := uuid.New()

	s.mu.Lock()
	s.dials[dialID] = dialPair{publisher: publisherID, dialer: connID}
	s.mu.Unlock()

	s.wsRepo.Write(connID, events.Envelope(events.TypeDialed, events.DialedEvent{DialID: dialID}))
	s.wsRepo.Write(publisherID, events.Envelope(events.TypeIncoming, events.IncomingEvent{DialID: dialID}))
}

// HandleSDP relays an offer or answer to the counterpart of the dial.
func (s *signalingUsecase) HandleSDP(ctx context.Context, connID uuid.UUID, msgType string, ev events.SDPEvent) {
	peerID, ok := s.counterpart(ev.DialID, connID)
	if !ok {
		s.writeError(connID, events.ErrorCodeNotFound, "unknown dial")
		return
	}

	s.wsRepo.Write(peerID, events.Envelope(msgType, ev))
}

func (s *signalingUsecase) HandleCandidate(ctx context.Context, connID uuid.UUID, ev events.CandidateEvent) {
	peerID, ok := s.counterpart(ev.DialID, connID)
	if !ok {
		return
	}

	s.wsRepo.Write(peerID, events.Envelope(events.TypeCandidate, ev))
}

func (s *signalingUsecase) HandlePing(ctx context.Context, connID uuid.UUID) {
	s.wsRepo.Write(connID, events.Envelope(events.TypePong, nil))
}

// HandleDisconnect releases everything the connection owned: its published
// addresses and both sides of any dial it took part in.
func (s *signalingUsecase) HandleDisconnect(ctx context.Context, connID uuid.UUID) {
	for _, address := range s.addressRegistry.UnpublishConn(connID) {
		slog.Info("address unpublished", slog.String(constant.Address, address))
	}

	type orphan struct {
		dialID uuid.UUID
		peer   uuid.UUID
	}

	s.mu.Lock()
	var orphans []orphan
	for dialID, pair := range s.dials {
		if pair.publisher == connID || pair.dialer == connID {
			peer := pair.publisher
			if peer == connID {
				peer = pair.dialer
			}
			orphans = append(orphans, orphan{dialID: dialID, peer: peer})
			delete(s.dials, dialID)
		}
	}
	s.mu.Unlock()

	for _, o := range orphans {
		s.wsRepo.Write(o.peer, events.Envelope(events.TypePeerClosed, events.PeerClosedEvent{DialID: o.dialID}))
	}
}

func (s *signalingUsecase) counterpart(dialID, connID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.dials[dialID]
	if !ok {
		return uuid.Nil, false
	}
	switch connID {
	case pair.publisher:
		return pair.dialer, true
	case pair.dialer:
		return pair.publisher, true
	default:
		return uuid.Nil, false
	}
}

func (s *signalingUsecase) writeError(connID uuid.UUID, code, message string) {
	s.wsRepo.Write(connID, events.Envelope(events.TypeError, events.ErrorEvent{Code: code, Message: message}))
}
