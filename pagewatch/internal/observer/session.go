package observer

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hazyhaar/codementor/pagewatch/internal/extract"
	"github.com/hazyhaar/codementor/problem"
)

const (
	languageLoading = "Loading..."
	languageUnknown = "Unknown"

	debugLogLimit = 5
)

// session is one (re)initialisation of the observer on a page. It owns
// the editor and language watches, the content debouncer, the retry
// pollers and the last forwarded snapshot. All methods run on the
// controller loop.
type session struct {
	id  string
	c   *Controller
	log *capLog

	initRetry *Poller
	loadPoll  *Poller
	langPoll  *Poller

	content   *debouncer
	watches   []string
	timers    map[uint64]clockwork.Timer
	nextTimer uint64

	processing bool
	closed     bool
	last       *problem.Snapshot
}

func newSession(c *Controller) *session {
	s := &session{
		id:        c.newID(),
		c:         c,
		log:       newCapLog(c.logger, debugLogLimit),
		initRetry: NewPoller(c.timing.MaxRetries + 1),
		loadPoll:  NewPoller(c.timing.LoadMaxAttempts),
		langPoll:  NewPoller(c.timing.MaxRetries + 1),
		timers:    make(map[uint64]clockwork.Timer),
	}
	s.content = newDebouncer(c.clock, c.timing.ContentDebounce, c.post, s.refresh)
	return s
}

// after runs fn on the loop once d has elapsed, unless the session was
// closed in the meantime. Only pending timers are retained.
func (s *session) after(d time.Duration, fn func()) {
	s.nextTimer++
	key := s.nextTimer
	s.timers[key] = s.c.clock.AfterFunc(d, func() {
		s.c.post(func() {
			if s.closed {
				return
			}
			delete(s.timers, key)
			fn()
		})
	})
}

// init probes the page runtime, retrying at RetryInterval until the
// probe succeeds or the retry bound is hit.
func (s *session) init() {
	s.log.Debug("observer: session initialising", "session", s.id, "page_id", s.c.pageID)

	if !s.c.page.Alive(s.c.ctx) {
		if s.initRetry.Fail() == GaveUp {
			s.c.logger.Error("observer: page context invalid, giving up",
				"session", s.id, "page_id", s.c.pageID, "attempts", s.initRetry.Attempts())
			s.c.initDone(s)
			return
		}
		s.log.Debug("observer: page context invalid, retrying",
			"attempt", s.initRetry.Attempts(), "max", s.initRetry.Max())
		s.after(s.c.timing.RetryInterval, s.init)
		return
	}
	s.initRetry.Succeed()
	s.pollLoad()
}

// pollLoad waits for the editor, description and title landmarks. It
// proceeds on success or once the attempt bound is reached.
func (s *session) pollLoad() {
	if !s.c.page.Alive(s.c.ctx) {
		s.c.logger.Warn("observer: page context lost during load wait", "session", s.id)
		s.c.initDone(s)
		return
	}

	var marks extract.Landmarks
	doc, err := s.c.document()
	if err == nil {
		marks = doc.Landmarks()
	}
	s.log.Debug("observer: checking landmarks",
		"editor", marks.Editor, "description", marks.Description, "title", marks.Title,
		"attempt", s.loadPoll.Attempts()+1)

	if marks.Ready() {
		s.loadPoll.Succeed()
	} else if s.loadPoll.Fail() == Polling {
		s.after(s.c.timing.LoadPollInterval, s.pollLoad)
		return
	}

	s.c.initDone(s)
	s.extract()
	s.observe()
}

// extract runs one extraction pass and forwards the snapshot if the
// language or the editor contents changed.
func (s *session) extract() {
	if s.closed || s.processing || !s.c.page.Alive(s.c.ctx) {
		return
	}
	s.processing = true
	defer func() { s.processing = false }()

	doc, err := s.c.document()
	if err != nil {
		s.c.logger.Warn("observer: extraction failed", "session", s.id, "error", err)
		return
	}

	lang := s.language(doc)
	if lang == languageLoading {
		s.after(s.c.timing.RetryInterval, s.extract)
		return
	}

	snap := &problem.Snapshot{
		ID:                  s.c.newID(),
		PageID:              s.c.pageID,
		Title:               doc.Title(),
		Description:         doc.Description(),
		DescriptionMarkdown: doc.DescriptionMarkdown(),
		Difficulty:          doc.Difficulty(),
		UserCode:            doc.Code(),
		Language:            lang,
		URL:                 doc.URL(),
		CapturedAt:          s.c.clock.Now().UnixMilli(),
	}
	if !problem.Changed(s.last, snap) {
		return
	}
	s.last = snap
	s.c.forward(problem.Info(snap))
	s.log.Debug("observer: problem snapshot forwarded",
		"language", snap.Language, "code_length", len(snap.UserCode))
}

// language resolves the selected language. While unresolved and retries
// remain it returns languageLoading; after the last retry, languageUnknown.
func (s *session) language(doc *extract.Document) string {
	if lang := doc.Language(); lang != "" {
		s.langPoll.Succeed()
		return lang
	}
	if s.langPoll.Fail() == GaveUp {
		s.log.Debug("observer: no language detected after retries")
		return languageUnknown
	}
	s.log.Debug("observer: language not detected yet",
		"attempt", s.langPoll.Attempts(), "max", s.langPoll.Max()-1)
	return languageLoading
}

// refresh is the content debouncer's action.
func (s *session) refresh() {
	s.langPoll.Reset()
	s.processing = false
	s.extract()
}

// observe attaches the editor and language watches.
func (s *session) observe() {
	if s.closed || !s.c.page.Alive(s.c.ctx) {
		return
	}
	sel := s.c.sel
	for _, w := range []Watch{
		{ID: s.id + "/editor", Selectors: sel.Editor, ChildList: true, Subtree: true, CharacterData: true},
		{ID: s.id + "/language", Selectors: []string{sel.Language}, Parent: true, ChildList: true, Subtree: true, Attributes: true},
	} {
		ok, err := s.c.page.Attach(s.c.ctx, w)
		if err != nil {
			s.c.logger.Warn("observer: attach watch failed", "watch", w.ID, "error", err)
			continue
		}
		if ok {
			s.watches = append(s.watches, w.ID)
		}
	}
}

// owns reports whether a watch ID belongs to this session.
func (s *session) owns(watch string) bool {
	return len(watch) > len(s.id) && watch[:len(s.id)] == s.id && watch[len(s.id)] == '/'
}

// close cancels timers and disconnects the session's watches. A closed
// session never runs another callback.
func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.content.Cancel()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}

	ctx, cancel := s.c.detachContext()
	defer cancel()
	for _, id := range s.watches {
		if err := s.c.page.Detach(ctx, id); err != nil {
			s.c.logger.Warn("observer: detach watch failed", "watch", id, "error", err)
		}
	}
	s.watches = nil
}
