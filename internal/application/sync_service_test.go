package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/climap/internal/domain"
)

func TestSyncService_RateLimiting(t *testing.T) {
	service := NewSyncService(newTestRegistry(), time.Hour, testLogger())
	ctx := context.Background()

	result, err := service.TriggerSync(ctx)
	if err != nil {
		t.Fatalf("first sync should succeed, got error: %v", err)
	}
	if result.DatasetsAdded != 0 {
		t.Errorf("expected 0 datasets added with empty storage, got %d", result.DatasetsAdded)
	}
	if result.SyncedAt.IsZero() {
		t.Error("SyncedAt not set")
	}

	if _, err := service.TriggerSync(ctx); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}

	service.apiMutex.Lock()
	service.lastAPISync = time.Now().Add(-SyncCooldown)
	service.apiMutex.Unlock()

	if _, err := service.TriggerSync(ctx); err != nil {
		t.Errorf("sync after cooldown failed: %v", err)
	}
}

func TestSyncService_SyncAddsDatasets(t *testing.T) {
	storage := &mockStorage{}
	storage.setObjects("datasets/a.json", "datasets/b.json")
	reader := &mockReader{datasets: map[string]*domain.Dataset{
		"datasets/a.json": constantDataset("a", 1),
		"datasets/b.json": constantDataset("b", 2),
	}}
	registry := NewDatasetRegistry(reader, storage, nil, testLogger(), "datasets")
	service := NewSyncService(registry, time.Hour, testLogger())

	result, err := service.TriggerSync(context.Background())
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if result.DatasetsAdded != 2 || result.DatasetsTotal != 2 {
		t.Errorf("result = %+v, want 2 added, 2 total", result)
	}
}

func TestSyncService_SyncError(t *testing.T) {
	storage := &mockStorage{listErr: domain.ErrStorageUnavailable}
	registry := NewDatasetRegistry(&mockReader{}, storage, nil, testLogger(), "")
	service := NewSyncService(registry, time.Hour, testLogger())

	if _, err := service.TriggerSync(context.Background()); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("err = %v, want ErrStorageUnavailable", err)
	}
}

func TestSyncService_Periodic(t *testing.T) {
	storage := &mockStorage{}
	storage.setObjects("datasets/a.json")
	reader := &mockReader{datasets: map[string]*domain.Dataset{
		"datasets/a.json": constantDataset("a", 1),
	}}
	registry := NewDatasetRegistry(reader, storage, nil, testLogger(), "datasets")
	service := NewSyncService(registry, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	service.Start(ctx)
	defer service.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for registry.DatasetCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("periodic sync did not load the dataset")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSyncService_StopIsIdempotent(t *testing.T) {
	service := NewSyncService(newTestRegistry(), 100*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service.Start(ctx)
	service.Stop()
	service.Stop()
}

func TestSyncService_Interval(t *testing.T) {
	service := NewSyncService(newTestRegistry(), 5*time.Minute, testLogger())

	if service.Interval() != 5*time.Minute {
		t.Errorf("Interval() = %v, want 5m", service.Interval())
	}
}
