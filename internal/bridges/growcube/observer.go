package growcube

// ChangeHandler receives state transitions. Handlers run on the goroutine
// that produced the change (usually the client's read goroutine) and must
// not block.
type ChangeHandler func(Change)

type subscription struct {
	field   Field
	all     bool
	handler ChangeHandler
}

// Subscribe registers a handler for one field. The returned function removes
// the subscription and is safe to call more than once.
func (c *Coordinator) Subscribe(field Field, handler ChangeHandler) func() {
	return c.addSubscription(subscription{field: field, handler: handler})
}

// SubscribeAll registers a handler for every field.
func (c *Coordinator) SubscribeAll(handler ChangeHandler) func() {
	return c.addSubscription(subscription{all: true, handler: handler})
}

func (c *Coordinator) addSubscription(sub subscription) func() {
	if sub.handler == nil {
		return func() {}
	}

	c.subsMu.Lock()
	c.nextSubID++
	id := c.nextSubID
	c.subs[id] = sub
	c.subsMu.Unlock()

	return func() {
		c.subsMu.Lock()
		delete(c.subs, id)
		c.subsMu.Unlock()
	}
}

// notify delivers changes to matching subscribers. Callers must not hold mu.
func (c *Coordinator) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}

	identity := c.Identity()

	c.subsMu.RLock()
	handlers := make([]subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		handlers = append(handlers, sub)
	}
	c.subsMu.RUnlock()

	for _, ch := range changes {
		ch.DeviceID = identity.DeviceID
		ch.Host = identity.Host
		for _, sub := range handlers {
			if sub.all || sub.field == ch.Field {
				c.dispatch(sub.handler, ch)
			}
		}
	}
}

// dispatch calls one handler, recovering from panics so a faulty
// subscriber cannot take down the read goroutine.
func (c *Coordinator) dispatch(handler ChangeHandler, ch Change) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("change handler panicked", errPanic(r), "field", string(ch.Field))
		}
	}()
	handler(ch)
}
