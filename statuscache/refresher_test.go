package statuscache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/axolotl-cloud/jobwatch/apiclient"
	"github.com/axolotl-cloud/jobwatch/common/models"
	"github.com/stretchr/testify/assert"
)

type fakeStatusFetcher struct {
	mutex  sync.Mutex
	status models.ContainerStatus
	err    error
	calls  int
}

func (f *fakeStatusFetcher) ContainerStatus(ctx context.Context, ref apiclient.ContainerRef) (models.ContainerStatus, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls++
	if f.err != nil {
		return models.CONTAINER_UNKNOWN, f.err
	}
	return f.status, nil
}

func (f *fakeStatusFetcher) set(status models.ContainerStatus, err error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.status = status
	f.err = err
}

func (f *fakeStatusFetcher) callCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.calls
}

var testRef = apiclient.ContainerRef{ProjectId: "p1", ContainerId: "c1"}

func TestRefresher_FetchErrorMeansDead(t *testing.T) {
	cache := New()
	fetcher := &fakeStatusFetcher{err: errors.New("connection refused")}
	r := NewRefresher(cache, fetcher, testRef, time.Hour)

	assert.Equal(t, models.CONTAINER_DEAD, r.Refresh(context.Background()))
	assert.Equal(t, models.CONTAINER_DEAD, cache.Get("p1/c1"))

	fetcher.set(models.CONTAINER_RUNNING, nil)
	r.Refresh(context.Background())
	assert.Equal(t, models.CONTAINER_RUNNING, cache.Get("p1/c1"))
}

func TestRefresher_SkipWhileInFlight(t *testing.T) {
	cache := New()
	cache.Write("p1/c1", models.CONTAINER_LOADING, cache.NextSeq())
	fetcher := &fakeStatusFetcher{status: models.CONTAINER_EXITED}
	r := NewRefresher(cache, fetcher, testRef, time.Hour)
	r.SkipWhile(func(key string) bool { return key == "p1/c1" })

	assert.Equal(t, models.ContainerStatus(""), r.Refresh(context.Background()))
	assert.Equal(t, 0, fetcher.callCount())
	assert.Equal(t, models.CONTAINER_LOADING, cache.Get("p1/c1"))
}

func TestRefresher_StartFetchesImmediatelyAndConverges(t *testing.T) {
	cache := New()
	fetcher := &fakeStatusFetcher{status: models.CONTAINER_RUNNING}
	r := NewRefresher(cache, fetcher, testRef, 10*time.Millisecond)

	r.Start(context.Background())
	defer r.Stop()

	assert.Eventually(t, func() bool {
		return cache.Get("p1/c1") == models.CONTAINER_RUNNING
	}, time.Second, 2*time.Millisecond)

	fetcher.set(models.CONTAINER_UNKNOWN, errors.New("500"))
	assert.Eventually(t, func() bool {
		return cache.Get("p1/c1") == models.CONTAINER_DEAD
	}, time.Second, 2*time.Millisecond)

	fetcher.set(models.CONTAINER_EXITED, nil)
	assert.Eventually(t, func() bool {
		return cache.Get("p1/c1") == models.CONTAINER_EXITED
	}, time.Second, 2*time.Millisecond)
}

func TestRefresher_StopEndsWrites(t *testing.T) {
	cache := New()
	fetcher := &fakeStatusFetcher{status: models.CONTAINER_RUNNING}
	r := NewRefresher(cache, fetcher, testRef, 5*time.Millisecond)

	r.Start(context.Background())
	r.Start(context.Background())
	assert.Eventually(t, func() bool { return fetcher.callCount() >= 2 }, time.Second, time.Millisecond)
	r.Stop()

	calls := fetcher.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())

	//stopping twice is harmless
	r.Stop()
}

func TestRefresher_ActionClaimedDuringSkipCheck(t *testing.T) {
	cache := New()
	cache.Write("p1/c1", models.CONTAINER_RUNNING, cache.NextSeq())
	fetcher := &fakeStatusFetcher{status: models.CONTAINER_RUNNING}
	r := NewRefresher(cache, fetcher, testRef, time.Hour)

	//an action claims the container just after the check says it is free
	r.SkipWhile(func(key string) bool {
		cache.Write(key, models.CONTAINER_LOADING, cache.NextSeq())
		return false
	})

	r.Refresh(context.Background())
	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, models.CONTAINER_LOADING, cache.Get("p1/c1"))
}

func TestRefresher_SkipWhileAfterStart(t *testing.T) {
	cache := New()
	fetcher := &fakeStatusFetcher{status: models.CONTAINER_RUNNING}
	r := NewRefresher(cache, fetcher, testRef, time.Millisecond)

	r.Start(context.Background())
	defer r.Stop()
	assert.Eventually(t, func() bool { return fetcher.callCount() >= 1 }, time.Second, time.Millisecond)

	r.SkipWhile(func(key string) bool { return true })
	//one tick may already be past the check
	time.Sleep(10 * time.Millisecond)
	calls := fetcher.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
}
