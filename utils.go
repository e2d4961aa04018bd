package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aquilax/shareit/forum"
	"github.com/gosimple/slug"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
	"golang.org/x/crypto/bcrypt"
)

func hfSlug(s string) string {
	return slug.Make(s) + ".html"
}

func postURL(baseURL string, p forum.PostView) string {
	return baseURL + "/posts/" + strconv.FormatInt(p.ID, 10) + "/" + hfSlug(p.Title)
}

func renderText(t string) string {
	extensions := blackfriday.Autolink |
		blackfriday.HardLineBreak |
		blackfriday.NoIntraEmphasis |
		blackfriday.Tables |
		blackfriday.FencedCode |
		blackfriday.Strikethrough |
		blackfriday.SpaceHeadings |
		blackfriday.HeadingIDs

	renderer := blackfriday.NewHTMLRenderer(blackfriday.HTMLRendererParameters{
		Flags: blackfriday.UseXHTML |
			blackfriday.Smartypants |
			blackfriday.SmartypantsFractions |
			blackfriday.SmartypantsLatexDashes,
	})
	unsafe := blackfriday.Run([]byte(t), blackfriday.WithExtensions(extensions), blackfriday.WithRenderer(renderer))
	return string(bluemonday.UGCPolicy().SanitizeBytes(unsafe))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &HTTPError{Err: err, Message: "malformed request body", Code: http.StatusBadRequest}
	}
	return nil
}

// parseID reads a positive numeric id. An empty string is the zero id.
func parseID(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, &HTTPError{Err: err, Message: "invalid id " + strconv.Quote(s), Code: http.StatusBadRequest}
	}
	return id, nil
}
