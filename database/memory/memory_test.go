package memory

import (
	"context"
	"reflect"
	"testing"

	"github.com/aquilax/shareit/database"
	"github.com/aquilax/shareit/database/databasetest"
	"github.com/aquilax/shareit/forum"
)

func TestImplementsDatabase(t *testing.T) {
	inter := reflect.TypeOf((*database.Database)(nil)).Elem()

	if !reflect.TypeOf(New()).Implements(inter) {
		t.Errorf("Memory does not implement the database interface")
	}
}

func TestContract(t *testing.T) {
	databasetest.Run(t, func(t *testing.T, clock forum.Clock) database.Database {
		return New(WithClock(clock))
	})
}

func TestInstancesAreIndependent(t *testing.T) {
	ctx := context.Background()
	a, b := New(), New()
	if _, err := a.CreateUser(ctx, "jdoe", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := b.FindUserByUsername(ctx, "jdoe"); err == nil {
		t.Errorf("expected a fresh store to be empty")
	}
}
