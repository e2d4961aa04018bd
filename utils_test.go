package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/aquilax/shareit/forum"
	. "github.com/smartystreets/goconvey/convey"
)

func TestUtils(t *testing.T) {
	Convey("hfSlug builds html slugs", t, func() {
		So(hfSlug("Hello World"), ShouldEqual, "hello-world.html")
		So(postURL("http://example.com", forum.PostView{ID: 7, Title: "Hello World"}), ShouldEqual, "http://example.com/posts/7/hello-world.html")
	})

	Convey("renderText renders markdown and strips scripts", t, func() {
		html := renderText("**bold** <script>alert(1)</script>")
		So(html, ShouldContainSubstring, "<strong>bold</strong>")
		So(strings.Contains(html, "<script>"), ShouldBeFalse)
	})

	Convey("Passwords round trip through bcrypt", t, func() {
		hash, err := hashPassword("secret")
		So(err, ShouldBeNil)
		So(hash, ShouldNotEqual, "secret")
		So(checkPassword(hash, "secret"), ShouldBeTrue)
		So(checkPassword(hash, "wrong"), ShouldBeFalse)
	})

	Convey("parseID", t, func() {
		id, err := parseID("")
		So(err, ShouldBeNil)
		So(id, ShouldEqual, 0)

		id, err = parseID("42")
		So(err, ShouldBeNil)
		So(id, ShouldEqual, 42)

		_, err = parseID("abc")
		var httpError *HTTPError
		So(errors.As(err, &httpError), ShouldBeTrue)
		So(httpError.Code, ShouldEqual, 400)
	})
}
