package sip

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"braces.dev/errtrace"

	"github.com/sippet/go-sippet/internal/syncutil"
	"github.com/sippet/go-sippet/internal/timeutil"
	"github.com/sippet/go-sippet/internal/util"
	"github.com/sippet/go-sippet/message"
)

// NetworkLayer multiplexes SIP messages over a set of channels and drives
// the transactions created for them. It owns all channel and transaction
// state; every mutation runs as a task on a single internal runner, so
// delegate callbacks never race and re-entrant sends are safe.
type NetworkLayer struct {
	runner   *syncutil.TaskRunner
	delegate NetworkDelegate

	factories  map[string]ChannelFactory
	contexts   map[string]*channelContext
	aliases    map[string]string
	clientTxs  map[string]ClientTransaction
	serverTxs  map[string]ServerTransaction
	txChannels map[string]string

	txFactory     TransactionFactory
	branch        BranchFactory
	software      string
	timings       TimingConfig
	reuseLifetime time.Duration
	certHandler   TLSCertErrorHandler
	stats         *StatsRecorder
	log           *slog.Logger

	closed bool
}

// NewNetworkLayer creates a network layer reporting to the delegate. A nil
// delegate discards all events.
func NewNetworkLayer(delegate NetworkDelegate, opts *NetworkOptions) *NetworkLayer {
	if delegate == nil {
		delegate = noopNetDelegate
	}
	return &NetworkLayer{
		runner:        syncutil.NewTaskRunner(),
		delegate:      delegate,
		factories:     make(map[string]ChannelFactory),
		contexts:      make(map[string]*channelContext),
		aliases:       make(map[string]string),
		clientTxs:     make(map[string]ClientTransaction),
		serverTxs:     make(map[string]ServerTransaction),
		txChannels:    make(map[string]string),
		txFactory:     opts.transactionFactory(),
		branch:        opts.branch(),
		software:      opts.softwareName(),
		timings:       opts.timings(),
		reuseLifetime: opts.reuseLifetime(),
		certHandler:   opts.certErrorHandler(),
		stats:         opts.stats(),
		log:           opts.log(),
	}
}

// RegisterChannelFactory binds the factory to the protocol. Sends to a
// destination with an unregistered protocol fail with [ErrUnknownProtocol].
func (n *NetworkLayer) RegisterChannelFactory(protocol string, factory ChannelFactory) {
	n.runner.Post(func() {
		n.factories[util.UCase(protocol)] = factory
	})
}

// RegisterDefaultChannelFactories registers the built-in UDP, TCP, TLS, WS
// and WSS channel factories with the given options.
func (n *NetworkLayer) RegisterDefaultChannelFactories(opts *ChannelOptions) {
	n.RegisterChannelFactory(ProtocolUDP, NewUDPChannelFactory(opts))
	n.RegisterChannelFactory(ProtocolTCP, NewTCPChannelFactory(opts))
	n.RegisterChannelFactory(ProtocolTLS, NewTLSChannelFactory(opts))
	n.RegisterChannelFactory(ProtocolWS, NewWSChannelFactory(false, opts))
	n.RegisterChannelFactory(ProtocolWSS, NewWSChannelFactory(true, opts))
}

// Stats returns a point-in-time snapshot of the layer's counters.
func (n *NetworkLayer) Stats() StatsReport {
	return n.stats.Report()
}

// Send routes the message asynchronously. Requests go to the next hop
// derived from the first Route header or the request-URI, opening a channel
// when none exists; a client transaction is created for every non-ACK
// request. Responses go through their server transaction when one matches,
// or directly to the endpoint derived from the top Via. The callback, when
// not nil, fires from the runner once the message was handed to the
// transport or routing failed. After Close, Send fails with
// [ErrNetworkClosed].
func (n *NetworkLayer) Send(ctx context.Context, msg *message.Message, fn SendCallback) error {
	if msg == nil {
		return errtrace.Wrap(NewInvalidArgumentError("invalid message"))
	}

	posted := n.runner.Post(func() {
		if n.closed {
			n.complete(fn, ErrNetworkClosed)
			return
		}
		if msg.IsResponse() {
			n.sendResponse(ctx, msg, fn)
		} else {
			n.sendRequest(ctx, msg, fn)
		}
	})
	if !posted {
		return errtrace.Wrap(ErrNetworkClosed)
	}
	return nil
}

// Close destroys every channel context, terminating all transactions, and
// stops the runner. No delegate callbacks fire after Close begins.
func (n *NetworkLayer) Close() error {
	n.runner.Post(func() {
		if n.closed {
			return
		}
		n.closed = true

		n.log.LogAttrs(context.Background(), slog.LevelDebug, "network layer closing")

		keys := make([]string, 0, len(n.contexts))
		for key := range n.contexts {
			keys = append(keys, key)
		}
		for _, key := range keys {
			if cc := n.contexts[key]; cc != nil {
				n.destroyContext(cc, ErrNetworkClosed)
			}
		}
	})
	n.runner.Close()
	return nil
}

func (n *NetworkLayer) complete(fn SendCallback, err error) {
	if fn != nil {
		fn(err)
	}
}

// lookupContext resolves the endpoint key through the alias map.
func (n *NetworkLayer) lookupContext(key string) *channelContext {
	if cc, ok := n.contexts[key]; ok {
		return cc
	}
	if alias, ok := n.aliases[key]; ok {
		return n.contexts[alias]
	}
	return nil
}

func (n *NetworkLayer) contextOf(ch Channel) *channelContext {
	cc := n.lookupContext(ch.Destination().Key())
	if cc == nil || cc.channel != ch {
		return nil
	}
	return cc
}

func (n *NetworkLayer) sendResponse(ctx context.Context, res *message.Message, fn SendCallback) {
	if id, err := ServerTransactionID(res); err == nil {
		if tx, ok := n.serverTxs[id]; ok {
			n.complete(fn, tx.SendResponse(ctx, res))
			return
		}
	}

	dest, err := EndPointForResponse(res)
	if err != nil {
		n.complete(fn, err)
		return
	}

	cc := n.lookupContext(dest.Key())
	if cc == nil || !cc.connected {
		n.log.LogAttrs(ctx, slog.LevelDebug, "no channel for response", slog.Any("destination", dest))
		n.complete(fn, errtrace.Wrap(ErrChannelNotFound))
		return
	}
	n.complete(fn, cc.SendMessage(ctx, res))
}

func (n *NetworkLayer) sendRequest(ctx context.Context, req *message.Message, fn SendCallback) {
	dest, err := EndPointForRequest(req)
	if err != nil {
		n.complete(fn, err)
		return
	}

	cc := n.lookupContext(dest.Key())
	if cc == nil {
		// ACK never opens a connection: the channel that carried the
		// INVITE is gone and nothing waits for the ACK to arrive.
		if util.EqFold(req.Method(), message.MethodAck) {
			n.complete(fn, errtrace.Wrap(ErrChannelNotFound))
			return
		}

		factory, ok := n.factories[util.UCase(dest.Protocol)]
		if !ok {
			n.complete(fn, errtrace.Wrap(fmt.Errorf("%w: %s", ErrUnknownProtocol, dest.Protocol)))
			return
		}

		ch, err := factory.CreateChannel(dest, channelEvents{n})
		if err != nil {
			n.complete(fn, err)
			return
		}

		cc = &channelContext{
			net:     n,
			key:     dest.Key(),
			dest:    dest,
			channel: ch,
			txIDs:   make(map[string]struct{}),
		}
		n.contexts[cc.key] = cc
		cc.stash = append(cc.stash, stashedSend{msg: req, fn: fn})

		n.log.LogAttrs(ctx, slog.LevelDebug, "channel context created", slog.Any("destination", dest))

		if err := ch.Connect(context.Background()); err != nil {
			n.destroyContext(cc, err)
		}
		return
	}

	if !cc.connected {
		cc.stash = append(cc.stash, stashedSend{msg: req, fn: fn})
		return
	}

	n.sendThroughContext(ctx, cc, req, fn)
}

// sendThroughContext stamps the request against the channel's origin,
// creates the client transaction unless the request is an ACK, and sends.
func (n *NetworkLayer) sendThroughContext(ctx context.Context, cc *channelContext, req *message.Message, fn SendCallback) {
	if err := n.stampRequest(cc, req); err != nil {
		n.complete(fn, err)
		return
	}

	if util.EqFold(req.Method(), message.MethodAck) {
		n.complete(fn, cc.SendMessage(ctx, req))
		return
	}

	tx, err := n.txFactory.CreateClientTransaction(req, cc, &ClientTransactionOptions{
		Timings:  n.timings,
		Observer: txEvents{n},
		Log:      n.log,
	})
	if err != nil {
		n.complete(fn, err)
		return
	}

	n.clientTxs[tx.ID()] = tx
	n.registerTx(cc, tx)
	n.complete(fn, nil)
}

func (n *NetworkLayer) registerTx(cc *channelContext, tx Transaction) {
	n.txChannels[tx.ID()] = cc.key
	cc.txIDs[tx.ID()] = struct{}{}
	cc.acquire()
	n.stats.transactionOpened(tx.Type())
}

// stampRequest rewrites the top Via with the channel origin and a fresh
// branch when absent, completes placeholder Contact headers and adds the
// configured User-Agent.
func (n *NetworkLayer) stampRequest(cc *channelContext, req *message.Message) error {
	if err := n.stampVia(cc, req); err != nil {
		return errtrace.Wrap(err)
	}
	if err := n.stampContacts(cc, req); err != nil {
		return errtrace.Wrap(err)
	}
	if n.software != "" && !req.HasHeader("user-agent") {
		if err := req.AddHeader("User-Agent: " + n.software); err != nil {
			return errtrace.Wrap(err)
		}
	}
	return nil
}

func (n *NetworkLayer) stampVia(cc *channelContext, req *message.Message) error {
	origin := cc.channel.Origin()
	sentBy := message.JoinHostPort(origin.Host, origin.Port)
	proto := util.UCase(cc.dest.Protocol)

	raw, ok := req.EnumerateHeader(nil, "via")
	if !ok {
		return errtrace.Wrap(req.AddHeader(
			"Via: SIP/2.0/" + proto + " " + sentBy + ";branch=" + n.branch(),
		))
	}

	hop, err := message.ParseViaHop(raw)
	if err != nil {
		return errtrace.Wrap(err)
	}

	params := ""
	if i := strings.IndexByte(raw, ';'); i >= 0 {
		params = raw[i:]
	}
	if hop.Branch() == "" {
		params += ";branch=" + n.branch()
	}
	return errtrace.Wrap(req.ReplaceTopVia("SIP/2.0/" + proto + " " + sentBy + params))
}

const contactPlaceholder = "domain.invalid"

// stampContacts substitutes the placeholder host of Contact headers with
// the channel origin, adding the transport parameter for non-UDP channels
// and the outbound flag for non-REGISTER requests.
func (n *NetworkLayer) stampContacts(cc *channelContext, req *message.Message) error {
	origin := cc.channel.Origin()
	addr := message.JoinHostPort(origin.Host, origin.Port)
	isRegister := util.EqFold(req.Method(), message.MethodRegister)
	isUDP := util.EqFold(cc.dest.Protocol, ProtocolUDP)

	var rewrites [][2]string
	iter := 0
	for {
		raw, ok := req.EnumerateHeader(&iter, "contact")
		if !ok {
			break
		}
		i := strings.Index(raw, contactPlaceholder)
		if i < 0 {
			continue
		}
		v := raw[:i] + addr + raw[i+len(contactPlaceholder):]
		if !isUDP {
			v = insertURIParam(v, ";transport="+util.LCase(cc.dest.Protocol))
		}
		if !isRegister {
			v = insertURIParam(v, ";ob")
		}
		rewrites = append(rewrites, [2]string{raw, v})
	}

	for _, rw := range rewrites {
		if err := req.ReplaceHeaderLine("Contact", rw[0], rw[1]); err != nil {
			return errtrace.Wrap(err)
		}
	}
	return nil
}

// insertURIParam places the parameter inside the angle brackets when the
// address is enclosed, otherwise appends it.
func insertURIParam(contact, param string) string {
	if i := strings.IndexByte(contact, '>'); i >= 0 {
		return contact[:i] + param + contact[i:]
	}
	return contact + param
}

// handleIncoming dispatches a message read off a channel.
func (n *NetworkLayer) handleIncoming(ch Channel, msg *message.Message) {
	if n.closed {
		return
	}
	cc := n.contextOf(ch)
	if cc == nil {
		return
	}

	n.stats.recordReceived(cc.key, msg)

	if msg.IsRequest() {
		n.handleRequest(cc, msg)
	} else {
		n.handleResponse(cc, msg)
	}
}

func (n *NetworkLayer) handleRequest(cc *channelContext, req *message.Message) {
	ctx := context.Background()

	if err := stampViaReceived(req, cc.channel.Destination()); err != nil {
		n.log.LogAttrs(ctx, slog.LevelWarn, "discard request with bad Via",
			slog.Any("channel", cc.channel),
			slog.Any("error", err),
		)
		return
	}

	// Responses to this request route by its top Via; remember the channel
	// when that endpoint differs from the channel's key.
	if via, err := req.TopVia(); err == nil {
		if key := endPointForVia(via).Key(); key != cc.key {
			if _, ok := n.contexts[key]; !ok {
				n.aliases[key] = cc.key
			}
		}
	}

	id, err := ServerTransactionID(req)
	if err != nil {
		n.log.LogAttrs(ctx, slog.LevelWarn, "discard request with no transaction identity",
			slog.Any("channel", cc.channel),
			slog.Any("error", err),
		)
		return
	}

	if tx, ok := n.serverTxs[id]; ok {
		if err := tx.ReceiveRequest(ctx, req); err != nil {
			n.log.LogAttrs(ctx, slog.LevelWarn, "server transaction rejected request",
				slog.Any("transaction", tx),
				slog.Any("error", err),
			)
		}
		return
	}

	// An ACK matching no transaction acknowledges a 2xx and belongs to the
	// upper layer.
	if util.EqFold(req.Method(), message.MethodAck) {
		n.delegate.OnIncomingRequest(req)
		return
	}

	tx, err := n.txFactory.CreateServerTransaction(req, cc, &ServerTransactionOptions{
		ID:       id,
		Timings:  n.timings,
		Observer: txEvents{n},
		Log:      n.log,
	})
	if err != nil {
		n.log.LogAttrs(ctx, slog.LevelWarn, "discard request",
			slog.Any("channel", cc.channel),
			slog.Any("error", err),
		)
		return
	}

	n.serverTxs[tx.ID()] = tx
	n.registerTx(cc, tx)
	n.delegate.OnIncomingRequest(req)
}

func (n *NetworkLayer) handleResponse(cc *channelContext, res *message.Message) {
	ctx := context.Background()

	id, err := ClientTransactionID(res)
	if err != nil {
		n.log.LogAttrs(ctx, slog.LevelWarn, "discard response with no transaction identity",
			slog.Any("channel", cc.channel),
			slog.Any("error", err),
		)
		return
	}

	tx, ok := n.clientTxs[id]
	if !ok {
		n.log.LogAttrs(ctx, slog.LevelWarn, "discard unmatched response",
			slog.Any("channel", cc.channel),
			slog.String("transaction_id", id),
		)
		return
	}

	if err := tx.ReceiveResponse(ctx, res); err != nil {
		n.log.LogAttrs(ctx, slog.LevelWarn, "client transaction rejected response",
			slog.Any("transaction", tx),
			slog.Any("error", err),
		)
	}
}

// stampViaReceived records the observed peer on the top Via: a received
// parameter when the host differs from the sent-by host and an rport value
// when the port differs or the peer asked for it.
func stampViaReceived(req *message.Message, peer EndPoint) error {
	via, err := req.TopVia()
	if err != nil {
		return errtrace.Wrap(err)
	}
	raw, _ := req.EnumerateHeader(nil, "via")

	val := raw
	if !util.EqFold(via.Host, peer.Host) && via.Received() == "" {
		val = setViaParam(val, "received", peer.Host)
	}
	_, hasRport := via.Params["rport"]
	if _, ok := via.Rport(); !ok && (hasRport || via.Port != peer.Port) {
		val = setViaParam(val, "rport", strconv.Itoa(peer.Port))
	}

	if val == raw {
		return nil
	}
	return errtrace.Wrap(req.ReplaceTopVia(val))
}

// setViaParam sets the parameter on a raw Via value, replacing an existing
// occurrence in place.
func setViaParam(via, name, value string) string {
	i := strings.IndexByte(via, ';')
	if i < 0 {
		return via + ";" + name + "=" + value
	}

	head := via[:i]
	segs := strings.Split(via[i+1:], ";")
	found := false
	for k, seg := range segs {
		pname := seg
		if eq := strings.IndexByte(seg, '='); eq >= 0 {
			pname = seg[:eq]
		}
		if util.EqFold(util.TrimSP(pname), name) {
			segs[k] = name + "=" + value
			found = true
		}
	}
	if !found {
		segs = append(segs, name+"="+value)
	}
	return head + ";" + strings.Join(segs, ";")
}

func (n *NetworkLayer) handleChannelConnected(ch Channel, err error) {
	if n.closed {
		return
	}
	cc := n.contextOf(ch)
	if cc == nil {
		return
	}

	if err != nil {
		n.delegate.OnChannelConnected(cc.dest, err)
		n.destroyContext(cc, err)
		return
	}

	cc.connected = true
	n.delegate.OnChannelConnected(cc.dest, nil)

	stash := cc.stash
	cc.stash = nil
	for _, s := range stash {
		n.sendThroughContext(context.Background(), cc, s.msg, s.fn)
	}

	if cc.refs == 0 {
		n.scheduleIdle(cc)
	}
}

func (n *NetworkLayer) handleChannelClosed(ch Channel, err error) {
	if n.closed {
		return
	}
	cc := n.contextOf(ch)
	if cc == nil {
		return
	}

	n.log.LogAttrs(context.Background(), slog.LevelDebug, "channel context closed",
		slog.Any("destination", cc.dest),
		slog.Any("error", err),
	)

	n.destroyContext(cc, ErrChannelClosed)
	n.delegate.OnChannelClosed(cc.dest)
}

func (n *NetworkLayer) handleChannelCertError(ch Channel, err error) {
	if n.closed {
		return
	}
	cc := n.contextOf(ch)
	if cc == nil {
		return
	}

	if n.certHandler != nil {
		decision := n.certHandler(cc.dest, err)
		switch {
		case decision.Certificate != nil:
			if rerr := ch.ReconnectWithCertificate(context.Background(), decision.Certificate); rerr == nil {
				return
			}
		case decision.Accept:
			if rerr := ch.ReconnectIgnoringLastError(context.Background()); rerr == nil {
				return
			}
		}
	}

	n.delegate.OnChannelConnected(cc.dest, err)
	n.destroyContext(cc, err)
}

// destroyContext removes the context, terminates every transaction still
// registered with it, fails its stashed sends and closes the channel.
func (n *NetworkLayer) destroyContext(cc *channelContext, err error) {
	delete(n.contexts, cc.key)
	for alias, key := range n.aliases {
		if key == cc.key {
			delete(n.aliases, alias)
		}
	}

	if tmr := cc.idleTmr; tmr != nil {
		cc.idleTmr = nil
		tmr.Stop()
	}

	// Unregister before terminating so the termination events posted back
	// find nothing to release.
	var txs []Transaction
	for id := range cc.txIDs {
		delete(n.txChannels, id)
		if tx, ok := n.clientTxs[id]; ok {
			delete(n.clientTxs, id)
			n.stats.transactionClosed(tx.Type())
			txs = append(txs, tx)
		}
		if tx, ok := n.serverTxs[id]; ok {
			delete(n.serverTxs, id)
			n.stats.transactionClosed(tx.Type())
			txs = append(txs, tx)
		}
	}
	cc.txIDs = make(map[string]struct{})
	cc.refs = 0

	for _, tx := range txs {
		tx.Terminate(context.Background()) //nolint:errcheck
	}

	if err == nil {
		err = ErrChannelClosed
	}
	stash := cc.stash
	cc.stash = nil
	for _, s := range stash {
		n.complete(s.fn, err)
	}

	cc.channel.Close() //nolint:errcheck

	n.log.LogAttrs(context.Background(), slog.LevelDebug, "channel context destroyed",
		slog.Any("destination", cc.dest),
	)
}

func (n *NetworkLayer) scheduleIdle(cc *channelContext) {
	if cc.idleTmr != nil {
		return
	}
	cc.idleTmr = timeutil.AfterFunc(n.reuseLifetime, func() {
		n.runner.Post(func() {
			n.handleIdle(cc)
		})
	})

	n.log.LogAttrs(context.Background(), slog.LevelDebug, "channel idle timer started",
		slog.Any("destination", cc.dest),
		slog.Time("expires_at", time.Now().Add(n.reuseLifetime)),
	)
}

func (n *NetworkLayer) handleIdle(cc *channelContext) {
	if n.closed || n.contexts[cc.key] != cc || cc.refs > 0 {
		return
	}
	cc.idleTmr = nil

	n.log.LogAttrs(context.Background(), slog.LevelDebug, "channel idle lifetime expired",
		slog.Any("destination", cc.dest),
	)

	n.destroyContext(cc, nil)
	n.delegate.OnChannelClosed(cc.dest)
}

func (n *NetworkLayer) handleTxTerminated(tx Transaction) {
	id := tx.ID()

	if cur, ok := n.clientTxs[id]; ok && cur == tx {
		delete(n.clientTxs, id)
	} else if cur, ok := n.serverTxs[id]; ok && cur == tx {
		delete(n.serverTxs, id)
	} else {
		return
	}
	n.stats.transactionClosed(tx.Type())

	key, ok := n.txChannels[id]
	if !ok {
		return
	}
	delete(n.txChannels, id)

	cc := n.contexts[key]
	if cc == nil {
		return
	}
	delete(cc.txIDs, id)
	cc.release()
}

func requestOf(tx Transaction) *message.Message {
	switch t := tx.(type) {
	case ClientTransaction:
		return t.Request()
	case ServerTransaction:
		return t.Request()
	default:
		return nil
	}
}

// channelContext is the network layer's bookkeeping for one channel. It is
// the [MessageSender] handed to the transactions riding the channel.
type channelContext struct {
	net       *NetworkLayer
	key       string
	dest      EndPoint
	channel   Channel
	connected bool
	refs      int
	idleTmr   *timeutil.Timer
	stash     []stashedSend
	txIDs     map[string]struct{}
}

type stashedSend struct {
	msg *message.Message
	fn  SendCallback
}

// SendMessage implements [MessageSender].
func (cc *channelContext) SendMessage(ctx context.Context, msg *message.Message) error {
	if err := cc.channel.Send(ctx, msg); err != nil {
		return errtrace.Wrap(err)
	}
	cc.net.stats.recordSent(cc.key, msg)
	return nil
}

// IsReliable implements [MessageSender].
func (cc *channelContext) IsReliable() bool {
	return cc.channel.IsReliable()
}

func (cc *channelContext) acquire() {
	cc.refs++
	if tmr := cc.idleTmr; tmr != nil {
		cc.idleTmr = nil
		tmr.Stop()

		cc.net.log.LogAttrs(context.Background(), slog.LevelDebug, "channel idle timer stopped",
			slog.Any("destination", cc.dest),
		)
	}
}

func (cc *channelContext) release() {
	if cc.refs > 0 {
		cc.refs--
	}
	if cc.refs == 0 && cc.connected {
		cc.net.scheduleIdle(cc)
	}
}

// channelEvents forwards channel callbacks onto the network layer's runner.
type channelEvents struct {
	n *NetworkLayer
}

func (e channelEvents) OnChannelConnected(ch Channel, err error) {
	e.n.runner.Post(func() { e.n.handleChannelConnected(ch, err) })
}

func (e channelEvents) OnIncomingMessage(ch Channel, msg *message.Message) {
	e.n.runner.Post(func() { e.n.handleIncoming(ch, msg) })
}

func (e channelEvents) OnChannelClosed(ch Channel, err error) {
	e.n.runner.Post(func() { e.n.handleChannelClosed(ch, err) })
}

func (e channelEvents) OnChannelCertError(ch Channel, err error) {
	e.n.runner.Post(func() { e.n.handleChannelCertError(ch, err) })
}

// txEvents forwards transaction callbacks onto the network layer's runner.
type txEvents struct {
	n *NetworkLayer
}

func (e txEvents) OnTransactionMessage(_ Transaction, msg *message.Message) {
	e.n.runner.Post(func() {
		if e.n.closed {
			return
		}
		e.n.delegate.OnIncomingResponse(msg)
	})
}

func (e txEvents) OnTransactionTerminated(tx Transaction) {
	e.n.runner.Post(func() { e.n.handleTxTerminated(tx) })
}

func (e txEvents) OnTransactionTimedOut(tx Transaction) {
	e.n.runner.Post(func() {
		if e.n.closed {
			return
		}
		e.n.delegate.OnTimedOut(requestOf(tx))
	})
}

func (e txEvents) OnTransactionError(tx Transaction, err error) {
	e.n.runner.Post(func() {
		if e.n.closed {
			return
		}
		e.n.delegate.OnTransportError(requestOf(tx), err)
	})
}
