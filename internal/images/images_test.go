package images

import (
	"context"
	"testing"

	"github.com/deNBI/simplevm-portal/internal/apperr"
	"github.com/deNBI/simplevm-portal/internal/openstackclient"
)

type fakeBackend struct {
	byID   map[string]openstackclient.Image
	byName map[string][]openstackclient.Image
	all    []openstackclient.Image
}

func (f *fakeBackend) GetImage(_ context.Context, id string) (openstackclient.Image, error) {
	img, ok := f.byID[id]
	if !ok {
		return openstackclient.Image{}, apperr.NewWithID(apperr.KindImageNotFound, "not found", id)
	}
	return img, nil
}

func (f *fakeBackend) GetImageByName(_ context.Context, name string) ([]openstackclient.Image, error) {
	return f.byName[name], nil
}

func (f *fakeBackend) ListImages(_ context.Context, _ string) ([]openstackclient.Image, error) {
	return f.all, nil
}

func TestGetReturnsActiveImageDirectly(t *testing.T) {
	backend := &fakeBackend{byID: map[string]openstackclient.Image{
		"img-1": {ID: "img-1", Status: "active"},
	}}
	r := New(backend)

	img, err := r.Get(context.Background(), "img-1", Options{})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if img.ID != "img-1" {
		t.Errorf("ID = %q", img.ID)
	}
}

func TestGetInactiveWithReplaceInactiveSubstitutes(t *testing.T) {
	backend := &fakeBackend{
		byID: map[string]openstackclient.Image{
			"img-1": {ID: "img-1", Status: "queued", OSVersion: "22.04", OSDistro: "ubuntu"},
		},
		all: []openstackclient.Image{
			{ID: "img-2", Status: "active", OSVersion: "22.04", OSDistro: "ubuntu"},
		},
	}
	r := New(backend)

	img, err := r.Get(context.Background(), "img-1", Options{ReplaceInactive: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if img.ID != "img-2" {
		t.Errorf("ID = %q, want img-2", img.ID)
	}
}

func TestGetInactiveWithIgnoreNotActiveReturnsAsIs(t *testing.T) {
	backend := &fakeBackend{byID: map[string]openstackclient.Image{
		"img-1": {ID: "img-1", Status: "queued"},
	}}
	r := New(backend)

	img, err := r.Get(context.Background(), "img-1", Options{IgnoreNotActive: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if img.Status != "queued" {
		t.Errorf("Status = %q, want queued (returned as-is)", img.Status)
	}
}

func TestGetInactiveWithoutFlagsFailsImageNotActive(t *testing.T) {
	backend := &fakeBackend{byID: map[string]openstackclient.Image{
		"img-1": {ID: "img-1", Status: "queued"},
	}}
	r := New(backend)

	_, err := r.Get(context.Background(), "img-1", Options{})
	if !apperr.Is(err, apperr.KindImageNotActive) {
		t.Fatalf("expected KindImageNotActive, got %v", err)
	}
}

func TestGetNotFoundWithReplaceNotFoundSubstitutesUbuntuVersion(t *testing.T) {
	backend := &fakeBackend{
		all: []openstackclient.Image{
			{ID: "img-3", Status: "active", OSVersion: "20.04"},
		},
	}
	r := New(backend)

	img, err := r.Get(context.Background(), "ubuntu-20.04-base", Options{ReplaceNotFound: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if img.ID != "img-3" {
		t.Errorf("ID = %q, want img-3", img.ID)
	}
}

func TestGetNotFoundWithIgnoreNotFoundReturnsNil(t *testing.T) {
	backend := &fakeBackend{}
	r := New(backend)

	img, err := r.Get(context.Background(), "missing", Options{IgnoreNotFound: true})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if img != nil {
		t.Errorf("expected nil image, got %+v", img)
	}
}

func TestGetNotFoundWithoutFlagsFails(t *testing.T) {
	backend := &fakeBackend{}
	r := New(backend)

	_, err := r.Get(context.Background(), "missing", Options{})
	if !apperr.Is(err, apperr.KindImageNotFound) {
		t.Fatalf("expected KindImageNotFound, got %v", err)
	}
}

func TestListOnlyReturnsActiveTaggedImages(t *testing.T) {
	backend := &fakeBackend{all: []openstackclient.Image{
		{ID: "img-1", Status: "active", Tags: []string{"base"}},
		{ID: "img-2", Status: "active", Tags: nil},
		{ID: "img-3", Status: "queued", Tags: []string{"base"}},
	}}
	r := New(backend)

	list, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != "img-1" {
		t.Errorf("List = %+v, want only img-1", list)
	}
}
