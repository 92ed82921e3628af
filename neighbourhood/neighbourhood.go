// Package neighbourhood is a perspective shared with other agents under a
// common url and language.
//
// A Neighbourhood does not talk to carriers. Everything it sends goes out
// through the Outbound port supplied by its owning agent, which signs and
// addresses the envelope.
package neighbourhood

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/weave/carrier"
	"github.com/teranos/weave/digest"
	"github.com/teranos/weave/errors"
	"github.com/teranos/weave/expression"
	"github.com/teranos/weave/identity"
	"github.com/teranos/weave/language"
	"github.com/teranos/weave/logger"
	"github.com/teranos/weave/perspective"
	"github.com/teranos/weave/rdf"
	"github.com/teranos/weave/zcap"
)

// Outbound sends a sync message to recipient, a DID or carrier.Broadcast.
type Outbound interface {
	Send(ctx context.Context, recipient string, msg *Message) error
}

// Neighbourhood binds a perspective to a url and a language.
type Neighbourhood struct {
	url    string
	lang   language.Language
	persp  *perspective.Perspective
	signer identity.Signer
	out    Outbound
	logger *zap.SugaredLogger
}

// New creates a neighbourhood. The perspective's contents belong to it from now on.
func New(url string, lang language.Language, p *perspective.Perspective, signer identity.Signer, out Outbound, log *zap.SugaredLogger) *Neighbourhood {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Neighbourhood{
		url:    url,
		lang:   lang,
		persp:  p,
		signer: signer,
		out:    out,
		logger: log.Named("neighbourhood").With(logger.FieldNeighbourhood, url, logger.FieldLanguage, lang.Address()),
	}
}

func (n *Neighbourhood) URL() string                           { return n.url }
func (n *Neighbourhood) Language() language.Language           { return n.lang }
func (n *Neighbourhood) Perspective() *perspective.Perspective { return n.persp }

// Digest is the Merkle root of the shared links.
func (n *Neighbourhood) Digest() digest.Hash { return n.persp.Digest() }

// Publish creates an expression from claims, applies it locally and
// broadcasts it. Delivery is fire-and-forget: a broadcast failure is logged
// and the local apply stands.
func (n *Neighbourhood) Publish(ctx context.Context, claims []rdf.Quad) (*expression.Expression, error) {
	expr, err := n.lang.Create(ctx, claims, n.signer)
	if err != nil {
		return nil, errors.Wrapf(err, "create expression in %s", n.url)
	}
	if err := n.lang.Apply(ctx, expr, n.persp); err != nil {
		return nil, errors.Wrapf(err, "apply own expression in %s", n.url)
	}
	if la := n.lang.LinksAdapter(); la != nil {
		if links, err := expr.Links(); err == nil {
			if err := la.AddLinks(ctx, links); err != nil {
				n.logger.Warnw("Links adapter rejected additions", logger.FieldError, err)
			}
		}
	}

	msg := &Message{Type: TypeSync, NeighbourhoodURL: n.url, Expression: expr}
	if err := n.out.Send(ctx, carrier.Broadcast, msg); err != nil {
		n.logger.Warnw("Broadcast failed", logger.FieldNeighbourhood, n.url, logger.FieldError, err)
		return expr, nil
	}
	n.logger.Debugw("Published expression", logger.FieldDID, expr.Author)
	return expr, nil
}

// Receive applies an expression from a peer through the language.
func (n *Neighbourhood) Receive(ctx context.Context, expr *expression.Expression) error {
	return n.lang.Apply(ctx, expr, n.persp)
}

// Retract removes a link. The local agent may always retract its own links;
// anyone else's need a write capability on this neighbourhood invoked by
// the local agent.
func (n *Neighbourhood) Retract(ctx context.Context, le expression.LinkExpression, capability *zcap.Capability) error {
	self := n.signer.DID()
	if le.Author != self && !zcap.Verify(capability, self, n.url, zcap.ActionWrite) {
		return errors.NewForbiddenError("retract %s -> %s by %s in %s", le.Data.Source, le.Data.Target, le.Author, n.url)
	}
	if err := n.persp.Remove(le); err != nil {
		return err
	}
	if la := n.lang.LinksAdapter(); la != nil {
		if err := la.RemoveLink(ctx, le); err != nil {
			n.logger.Warnw("Links adapter rejected removal", logger.FieldError, err)
		}
	}
	return nil
}

// RequestSync asks peers for their links, sending this side's digest so
// peers already in the same state stay quiet.
func (n *Neighbourhood) RequestSync(ctx context.Context) error {
	msg := &Message{Type: TypeSyncRequest, NeighbourhoodURL: n.url, Digest: digest.HexHash(n.Digest())}
	return n.out.Send(ctx, carrier.Broadcast, msg)
}

// AnswerSync replies to requester with every link held, unless the
// neighbourhood is empty or the requester reported an identical digest.
// It reports whether a response was sent.
func (n *Neighbourhood) AnswerSync(ctx context.Context, requester, theirDigest string) (bool, error) {
	links := n.persp.All()
	if len(links) == 0 {
		return false, nil
	}
	if theirDigest != "" {
		if h, err := digest.ParseHash(theirDigest); err == nil && h == n.Digest() {
			n.logger.Debugw("Peer already in sync", logger.FieldPeer, requester)
			return false, nil
		}
	}
	msg := &Message{Type: TypeSyncResponse, NeighbourhoodURL: n.url, Links: links}
	if err := n.out.Send(ctx, requester, msg); err != nil {
		return false, errors.Wrapf(err, "answer sync for %s", requester)
	}
	n.logger.Debugw("Answered sync", logger.FieldPeer, requester, logger.FieldCount, len(links))
	return true, nil
}

// Merge adds links from a sync response directly to the perspective.
// They bypass language validation.
func (n *Neighbourhood) Merge(links []expression.LinkExpression) error {
	return n.persp.Add(links...)
}
