package dispatcher

type Subscription interface {
	Unsubscribe()
}

type subs struct {
	dispatcher *Dispatcher
	id         uint64
}

func (s *subs) Unsubscribe() {
	d := s.dispatcher
	d.mu.Lock()
	defer d.mu.Unlock()

	newList := make([]observerEntry, 0, len(d.observers))
	for _, o := range d.observers {
		if o.id != s.id {
			newList = append(newList, o)
		}
	}
	d.observers = newList
}
