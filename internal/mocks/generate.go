// Package mocks provides gomock implementations of the learnhub ports.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	store := mocks.NewMockProfileStore(ctrl)
//	store.EXPECT().GetProfile(gomock.Any(), "sub-1").Return(profile, nil)
package mocks

// ProfileStore: GetProfile, InsertProfile, GetActive, UpdateName
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=profile_store_mock.go github.com/target/learnhub/internal/ports ProfileStore

// AuthCache: Load, Save, Clear
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=auth_cache_mock.go github.com/target/learnhub/internal/ports AuthCache
