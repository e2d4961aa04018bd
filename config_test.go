package main

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfig(t *testing.T) {
	Convey("Given the default config", t, func() {
		c := NewConfig()
		So(c.Database, ShouldEqual, "sqlite")
		So(c.RequestTimeout, ShouldEqual, 10*time.Second)

		Convey("Flags override the defaults", func() {
			err := c.Load([]string{"-database", "postgres", "-dsn", "postgres://localhost/shareit", "-timeout", "2s", "-cache=false"})
			So(err, ShouldBeNil)
			So(c.Database, ShouldEqual, "postgres")
			So(c.Dsn, ShouldEqual, "postgres://localhost/shareit")
			So(c.RequestTimeout, ShouldEqual, 2*time.Second)
			So(c.Cache, ShouldBeFalse)
		})

		Convey("USE_MOCK_DB selects the memory backend", func() {
			t.Setenv("USE_MOCK_DB", "true")
			So(c.Load(nil), ShouldBeNil)
			So(c.Database, ShouldEqual, "memory")
		})

		Convey("A malformed USE_MOCK_DB is an error", func() {
			t.Setenv("USE_MOCK_DB", "maybe")
			So(c.Load(nil), ShouldNotBeNil)
		})

		Convey("Unknown flags are an error", func() {
			So(c.Load([]string{"-nope"}), ShouldNotBeNil)
		})
	})
}
