package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/database/cached"
	"github.com/aquilax/shareit/database/memory"
	"github.com/aquilax/shareit/database/postgres"
	"github.com/aquilax/shareit/database/sqlite"
	"github.com/aquilax/shareit/feed"
	"github.com/aquilax/shareit/forum"
	"github.com/aquilax/shareit/thread"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
	"github.com/gorilla/mux"
	"github.com/sourcegraph/sitemap"
)

const feedItems = 20

type ShareIt struct {
	config *Config
	db     database.Database
	m      *Model
}

type HTTPError struct {
	Err     error
	Message string
	Code    int
}

func (e *HTTPError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Err.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

type appHandler func(http.ResponseWriter, *http.Request) error

type requestIDKey struct{}

func NewShareIt() *ShareIt {
	return &ShareIt{config: NewConfig()}
}

func (s *ShareIt) Run(args []string) {
	if os.Getenv("GO_ENV") != "" {
		log.SetFlags(0)
	} else {
		log.SetFlags(log.Ldate | log.Ltime | log.LUTC)
	}

	if err := s.config.Load(args); err != nil {
		log.Fatal(err)
	}

	db, err := openDatabase(s.config)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	s.init(db)

	if s.config.Seed {
		if err := s.m.seed(context.Background()); err != nil {
			log.Fatal(err)
		}
	}

	log.Printf("Starting server at %s (%s backend)", s.config.Server, s.config.Database)
	if err := http.ListenAndServe(s.config.Server, s.router()); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func openDatabase(c *Config) (database.Database, error) {
	var db database.Database
	driver := c.Database
	switch c.Database {
	case "memory":
		db = memory.New()
	case "sqlite", "sqlite3":
		db = sqlite.New()
		driver = "sqlite"
	case "postgres":
		db = postgres.New()
	default:
		return nil, fmt.Errorf("unknown database %q", c.Database)
	}
	if c.Cache {
		db = cached.New(db)
	}
	if err := db.Open(driver, c.Dsn); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *ShareIt) init(db database.Database) {
	s.db = db
	s.m = NewModel(db)
}

func (s *ShareIt) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/health", appHandler(s.healthHandler)).Methods("GET")
	api.Handle("/register", appHandler(s.registerHandler)).Methods("POST")
	api.Handle("/login", appHandler(s.loginHandler)).Methods("POST")

	api.Handle("/posts", appHandler(s.postsHandler)).Methods("GET")
	api.Handle("/posts", appHandler(s.addPostHandler)).Methods("POST")
	api.Handle("/posts/{postID:[0-9]+}", appHandler(s.postHandler)).Methods("GET")
	api.Handle("/posts/{postID:[0-9]+}/comments", appHandler(s.commentsHandler)).Methods("GET")
	api.Handle("/posts/{postID:[0-9]+}/comments", appHandler(s.addCommentHandler)).Methods("POST")
	api.Handle("/posts/{postID:[0-9]+}/vote", appHandler(s.voteHandler)).Methods("POST")
	api.Handle("/posts/{postID:[0-9]+}/votes", appHandler(s.votesHandler)).Methods("GET")

	api.Handle("/subforums", appHandler(s.subforumsHandler)).Methods("GET")
	api.Handle("/subforums", appHandler(s.addSubforumHandler)).Methods("POST")
	api.Handle("/subforums/{subforumID:[0-9]+}/subscribe", appHandler(s.subscribeHandler)).Methods("POST")

	api.Handle("/users/{userID:[0-9]+}/subscriptions", appHandler(s.subscriptionsHandler)).Methods("GET")
	api.Handle("/users/{userID:[0-9]+}/feed", appHandler(s.userFeedHandler)).Methods("GET")

	r.Handle("/posts/{postID:[0-9]+}/{slug}", appHandler(s.postHandler)).Methods("GET")
	r.Handle("/feed.xml", appHandler(s.feedHandler)).Methods("GET")
	r.Handle("/sitemap.xml", appHandler(s.sitemapHandler)).Methods("GET")
	return r
}

// requestMiddleware tags the request with an id and bounds it with the
// configured timeout.
func (s *ShareIt) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		if s.config.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
			defer cancel()
		}
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		log.Printf("%s %s %s %s", id, r.Method, r.URL.RequestURI(), time.Since(start))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, forum.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, forum.ErrDuplicateUser), errors.Is(err, forum.ErrDuplicateSubforum):
		return http.StatusConflict
	case errors.Is(err, forum.ErrInvalidParent),
		errors.Is(err, forum.ErrInvalidVoteValue),
		errors.Is(err, forum.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, forum.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, forum.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (fn appHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := fn(w, r)
	if err == nil {
		return
	}
	var httpError *HTTPError
	if !errors.As(err, &httpError) {
		httpError = &HTTPError{Err: err, Code: statusCode(err)}
	}
	message := httpError.Message
	if message == "" {
		message = httpError.Error()
	}
	if httpError.Code >= http.StatusInternalServerError {
		log.Printf("%s: %v", requestID(r.Context()), err)
		message = http.StatusText(httpError.Code)
	}
	_ = writeJSON(w, httpError.Code, map[string]string{"error": message})
}

func varID(r *http.Request, name string) (int64, error) {
	return parseID(mux.Vars(r)[name])
}

func (s *ShareIt) healthHandler(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"backend": s.config.Database,
		"mock_db": s.config.Database == "memory",
	})
}

func (s *ShareIt) registerHandler(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	id, err := s.m.register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"user_id": id,
	})
}

func (s *ShareIt) loginHandler(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	u, err := s.m.login(r.Context(), req.Username, req.Password)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"user":    u,
	})
}

func (s *ShareIt) postsHandler(w http.ResponseWriter, r *http.Request) error {
	requester, err := parseID(r.URL.Query().Get("current_user_id"))
	if err != nil {
		return err
	}
	pl, err := s.m.feed.List(r.Context(), feed.Query{
		SubforumName: r.URL.Query().Get("subforum_name"),
		RequesterID:  requester,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, pl)
}

func (s *ShareIt) postHandler(w http.ResponseWriter, r *http.Request) error {
	postID, err := varID(r, "postID")
	if err != nil {
		return err
	}
	requester, err := parseID(r.URL.Query().Get("current_user_id"))
	if err != nil {
		return err
	}
	th, err := s.m.thread.Thread(r.Context(), postID, requester)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, th)
}

func (s *ShareIt) addPostHandler(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		UserID     forum.UserID     `json:"user_id"`
		SubforumID forum.SubforumID `json:"subforum_id"`
		Title      string           `json:"title"`
		Content    string           `json:"content"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	id, err := s.m.addPost(r.Context(), forum.NewPost{
		AuthorID:   req.UserID,
		SubforumID: req.SubforumID,
		Title:      req.Title,
		Body:       req.Content,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Post created",
		"post_id": id,
	})
}

func (s *ShareIt) commentsHandler(w http.ResponseWriter, r *http.Request) error {
	postID, err := varID(r, "postID")
	if err != nil {
		return err
	}
	cl, err := s.m.thread.Comments(r.Context(), postID)
	if err != nil {
		return err
	}
	if r.URL.Query().Get("nested") == "true" {
		return writeJSON(w, http.StatusOK, thread.Nest(cl))
	}
	return writeJSON(w, http.StatusOK, cl)
}

func (s *ShareIt) addCommentHandler(w http.ResponseWriter, r *http.Request) error {
	postID, err := varID(r, "postID")
	if err != nil {
		return err
	}
	var req struct {
		UserID   forum.UserID     `json:"user_id"`
		Content  string           `json:"content"`
		ParentID *forum.CommentID `json:"parent_comment_id"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	id, err := s.m.addComment(r.Context(), forum.NewComment{
		PostID:   postID,
		AuthorID: req.UserID,
		Body:     req.Content,
		ParentID: req.ParentID,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "Comment created",
		"comment_id": id,
	})
}

func (s *ShareIt) voteHandler(w http.ResponseWriter, r *http.Request) error {
	postID, err := varID(r, "postID")
	if err != nil {
		return err
	}
	var req struct {
		UserID   forum.UserID    `json:"user_id"`
		VoteType json.RawMessage `json:"vote_type"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	if len(req.VoteType) == 0 {
		return missing("vote_type")
	}
	value, err := forum.ParseVote(strings.Trim(string(req.VoteType), `"`))
	if err != nil {
		return err
	}
	p, err := s.m.ledger.Cast(r.Context(), req.UserID, postID, value)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Vote cast",
		"post":    p,
	})
}

func (s *ShareIt) votesHandler(w http.ResponseWriter, r *http.Request) error {
	postID, err := varID(r, "postID")
	if err != nil {
		return err
	}
	vl, err := s.db.ListVotes(r.Context(), postID)
	if err != nil {
		return err
	}
	if err := s.m.ledger.Audit(r.Context(), postID); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]interface{}{
		"votes": vl,
	})
}

func (s *ShareIt) subforumsHandler(w http.ResponseWriter, r *http.Request) error {
	sl, err := s.db.ListSubforums(r.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sl)
}

func (s *ShareIt) addSubforumHandler(w http.ResponseWriter, r *http.Request) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	id, err := s.m.addSubforum(r.Context(), req.Name, req.Description)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":     "Subforum created",
		"subforum_id": id,
	})
}

func (s *ShareIt) subscribeHandler(w http.ResponseWriter, r *http.Request) error {
	subforumID, err := varID(r, "subforumID")
	if err != nil {
		return err
	}
	var req struct {
		UserID forum.UserID `json:"user_id"`
	}
	if err := readJSON(r, &req); err != nil {
		return err
	}
	if err := s.m.subscribe(r.Context(), req.UserID, subforumID); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"message": "Subscribed successfully"})
}

func (s *ShareIt) subscriptionsHandler(w http.ResponseWriter, r *http.Request) error {
	userID, err := varID(r, "userID")
	if err != nil {
		return err
	}
	sl, err := s.db.ListSubscriptions(r.Context(), userID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sl)
}

func (s *ShareIt) userFeedHandler(w http.ResponseWriter, r *http.Request) error {
	userID, err := varID(r, "userID")
	if err != nil {
		return err
	}
	pl, err := s.m.feed.Subscribed(r.Context(), userID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, pl)
}

func baseURL(r *http.Request) string {
	return "http://" + r.Host
}

func (s *ShareIt) feedHandler(w http.ResponseWriter, r *http.Request) error {
	name := r.URL.Query().Get("subforum_name")
	pl, err := s.m.feed.List(r.Context(), feed.Query{SubforumName: name})
	if err != nil {
		return err
	}
	if len(pl) > feedItems {
		pl = pl[:feedItems]
	}
	title := s.config.Title
	if name != "" {
		title += ": " + name
	}
	rss := &feeds.Feed{
		Title:       title,
		Link:        &feeds.Link{Href: baseURL(r)},
		Description: s.config.Description,
		Created:     time.Now(),
	}
	for _, p := range pl {
		rss.Items = append(rss.Items, &feeds.Item{
			Title:       p.Title,
			Link:        &feeds.Link{Href: postURL(baseURL(r), p)},
			Author:      &feeds.Author{Name: p.AuthorUsername},
			Description: renderText(p.Body),
			Created:     p.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/rss+xml")
	return rss.WriteRss(w)
}

func (s *ShareIt) sitemapHandler(w http.ResponseWriter, r *http.Request) error {
	pl, err := s.m.feed.List(r.Context(), feed.Query{})
	if err != nil {
		return err
	}
	var urlSet sitemap.URLSet
	for _, p := range pl {
		urlSet.URLs = append(urlSet.URLs, sitemap.URL{
			Loc:        postURL(baseURL(r), p),
			LastMod:    &p.CreatedAt,
			ChangeFreq: sitemap.Daily,
			Priority:   0.7,
		})
	}
	xml, err := sitemap.Marshal(&urlSet)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/xml")
	_, err = w.Write(xml)
	return err
}
