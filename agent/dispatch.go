package agent

import (
	"context"
	"encoding/json"

	"github.com/teranos/weave/carrier"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/neighbourhood"
	"github.com/teranos/weave/zcap"
)

// dispatch handles one inbound envelope. Nothing here returns an error:
// malformed or unverifiable input is logged at debug and dropped.
func (a *Agent) dispatch(ctx context.Context, env *carrier.Envelope) {
	self := a.DID()
	if env.Sender == self || !env.AddressedTo(self) {
		return
	}
	log := a.logger.With(logger.FieldSender, env.Sender, logger.FieldEnvelopeID, env.ID, logger.FieldEnvelopeType, env.Type)
	if !carrier.Verify(env) {
		log.Debugw("Dropping envelope with bad signature")
		return
	}

	if env.Type == TypeDelegation {
		var c zcap.Capability
		if err := json.Unmarshal([]byte(env.Payload), &c); err != nil {
			log.Debugw("Dropping malformed capability", logger.FieldError, err)
			return
		}
		if err := a.wallet.Add(&c); err != nil {
			log.Debugw("Capability rejected", logger.FieldError, err)
			return
		}
		log.Infow("Capability received", "target", c.InvocationTarget, "action", c.AllowedAction)
		return
	}

	msg, err := neighbourhood.DecodeMessage(env.Payload)
	if err != nil {
		log.Debugw("Dropping malformed payload", logger.FieldError, err)
		return
	}
	n, err := a.neighbourhoods.Get(msg.NeighbourhoodURL)
	if err != nil {
		// not joined
		return
	}
	log = log.With(logger.FieldNeighbourhood, msg.NeighbourhoodURL, logger.FieldPayloadType, msg.Type)

	switch msg.Type {
	case neighbourhood.TypeSync:
		if msg.Expression == nil {
			log.Debugw("Sync message without expression")
			return
		}
		if err := n.Receive(ctx, msg.Expression); err != nil {
			log.Warnw("Expression rejected", logger.FieldError, err)
		}
	case neighbourhood.TypeSyncRequest:
		if _, err := n.AnswerSync(ctx, env.Sender, msg.Digest); err != nil {
			log.Warnw("Sync answer failed", logger.FieldError, err)
		}
	case neighbourhood.TypeSyncResponse:
		if err := n.Merge(msg.Links); err != nil {
			log.Warnw("Sync response rejected", logger.FieldError, err)
			return
		}
		log.Debugw("Merged sync response", logger.FieldCount, len(msg.Links))
	default:
		log.Debugw("Ignoring unknown payload type")
	}
}
