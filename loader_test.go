package microbatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBatchedLoad(t *testing.T) {
	testLoad := func(t *testing.T, loader ILoader[int, int]) {
		ctx := context.Background()
		loadings := make([]*Future[int], 0, 50_000)
		sum := 0

		for i := range 50_000 {
			loadings = append(loadings, loader.Load(ctx, i%100))
		}
		for _, loading := range loadings {
			v, err := loading.Get(ctx)
			if err != nil {
				t.Fatalf("error loading: %v", err)
			}
			sum += v
		}
		if err := loader.Close(ctx); err != nil {
			panic(err)
		}
		if sum != 50_000 {
			t.Fatalf("sum is %d != 50_000", sum)
		}
	}

	t.Run("Load", func(t *testing.T) {
		touched := int32(0)
		loader, err := NewLoader[int, int]().
			Configure(WithQueueSize(10), WithInterval(time.Millisecond)).
			Run(loadMapInt1(&touched))
		if err != nil {
			t.Fatalf("error starting loader: %v", err)
		}
		testLoad(t, loader)
	})

	t.Run("Load (Pool)", func(t *testing.T) {
		touched := int32(0)
		loader, err := NewLoader[int, int]().
			Configure(WithQueueSize(10), WithInterval(time.Millisecond), WithPoolSize(4)).
			Run(loadMapInt1(&touched))
		if err != nil {
			t.Fatalf("error starting loader: %v", err)
		}
		testLoad(t, loader)
	})

	t.Run("LoadAll", func(t *testing.T) {
		touched := int32(0)
		loader, err := NewLoader[int, int]().
			Configure(WithQueueSize(10), WithInterval(time.Millisecond)).
			Run(loadMapInt1(&touched))
		if err != nil {
			t.Fatalf("error starting loader: %v", err)
		}

		ctx := context.Background()
		sum := 0
		for range 5_000 {
			for _, loading := range loader.LoadAll(ctx, []int{1, 2, 3, 3}) {
				v, _ := loading.Get(ctx)
				sum += v
			}
		}
		if err := loader.Close(ctx); err != nil {
			panic(err)
		}
		if sum != 15_000 {
			t.Fatalf("sum is %d != 15_000", sum)
		}
	})
}

func TestBatchedLoadReuse(t *testing.T) {
	touched := int32(0)
	loader, err := NewLoader[int, int]().
		Configure(WithQueueSize(100), WithInterval(Unset)).
		Run(loadMapInt1(&touched))
	if err != nil {
		t.Fatalf("error starting loader: %v", err)
	}

	ctx := context.Background()
	loading1 := loader.Load(ctx, 1)
	loading2 := loader.Load(ctx, 2)

	if loader.Load(ctx, 1) != loading1 {
		t.Fatalf("loading not reuse pending future")
	}
	if loader.Load(ctx, 2) != loading2 {
		t.Fatalf("loading not reuse pending future")
	}

	wg := sync.WaitGroup{}
	for range 1_000 {
		wg.Go(func() {
			m := loader.LoadAll(ctx, []int{1, 2})
			if m[1] != loading1 {
				panic("loading not reuse pending future " + strconv.Itoa(int(atomic.LoadInt32(&touched))))
			}
			if m[2] != loading2 {
				panic("loading not reuse pending future " + strconv.Itoa(int(atomic.LoadInt32(&touched))))
			}
		})
	}
	wg.Wait()
	if err := loader.Close(ctx); err != nil {
		panic(err)
	}
	if touched != 1 {
		t.Fatalf("touched too many time %d > 1", touched)
	}
	if v, _ := loading1.Wait(); v != 1 {
		t.Fatalf("loaded value is %d != 1", v)
	}
}

func TestBatchedLoadReloadAfterResolve(t *testing.T) {
	touched := int32(0)
	loader, err := NewLoader[int, int]().
		Configure(WithQueueSize(100), WithInterval(Unset)).
		Run(loadMapInt1(&touched))
	if err != nil {
		t.Fatalf("error starting loader: %v", err)
	}
	defer loader.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first := loader.Load(ctx, 1)
	loader.Flush()
	if _, err := first.Get(ctx); err != nil {
		t.Fatalf("error loading: %v", err)
	}

	second := loader.Load(ctx, 1)
	if second == first {
		t.Fatalf("resolved future reused")
	}
	loader.Flush()
	if _, err := second.Get(ctx); err != nil {
		t.Fatalf("error loading: %v", err)
	}
	if atomic.LoadInt32(&touched) != 2 {
		t.Fatalf("touched %d != 2", touched)
	}
}

func TestBatchedLoadGetAll(t *testing.T) {
	touched := int32(0)
	loader, err := NewLoader[int, int]().
		Configure(WithQueueSize(3), WithInterval(time.Millisecond)).
		Run(loadMapInt1(&touched))
	if err != nil {
		t.Fatalf("error starting loader: %v", err)
	}
	defer loader.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := loader.GetAll(ctx, []int{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("error loading: %v", err)
	}
	if len(result) != 5 {
		t.Fatalf("loaded %d keys != 5", len(result))
	}
	v, err := loader.Get(ctx, 6)
	if err != nil || v != 1 {
		t.Fatalf("get result is %d, %v", v, err)
	}
}

func TestBatchedLoadMissingResult(t *testing.T) {
	errNotFound := errors.New("not found")
	evenOnly := func(keys []int) (map[int]int, error) {
		res := make(map[int]int, len(keys))
		for _, k := range keys {
			if k%2 == 0 {
				res[k] = k
			}
		}
		return res, nil
	}

	t.Run("default", func(t *testing.T) {
		loader, err := NewLoader[int, int]().
			Configure(WithQueueSize(2), WithInterval(Unset)).
			Run(evenOnly)
		if err != nil {
			t.Fatalf("error starting loader: %v", err)
		}
		ctx := context.Background()
		odd := loader.Load(ctx, 1)
		even := loader.Load(ctx, 2)
		if _, err := odd.Wait(); !errors.Is(err, ErrLoadMissingResult) {
			t.Fatalf("error is %v != %v", err, ErrLoadMissingResult)
		}
		if v, err := even.Wait(); v != 2 || err != nil {
			t.Fatalf("result is %d, %v", v, err)
		}
		if err := loader.Close(ctx); err != nil {
			panic(err)
		}
	})

	t.Run("configured", func(t *testing.T) {
		loader, err := NewLoader[int, int]().
			Configure(WithQueueSize(1), WithInterval(Unset)).
			WithMissingResultError(errNotFound).
			Run(evenOnly)
		if err != nil {
			t.Fatalf("error starting loader: %v", err)
		}
		ctx := context.Background()
		if _, err := loader.Load(ctx, 1).Wait(); !errors.Is(err, errNotFound) {
			t.Fatalf("error is %v != %v", err, errNotFound)
		}
		if err := loader.Close(ctx); err != nil {
			panic(err)
		}
	})
}

func TestBatchedLoadError(t *testing.T) {
	errLoad := errors.New("load failed")
	loader, err := NewLoader[int, int]().
		Configure(WithQueueSize(2), WithInterval(Unset), WithDisabledDefaultProcessErrorLog()).
		Run(func(_ []int) (map[int]int, error) {
			return nil, errLoad
		})
	if err != nil {
		t.Fatalf("error starting loader: %v", err)
	}
	ctx := context.Background()
	f1 := loader.Load(ctx, 1)
	f2 := loader.Load(ctx, 2)
	for _, f := range []*Future[int]{f1, f2} {
		if _, err := f.Wait(); !errors.Is(err, errLoad) {
			t.Fatalf("error is %v != %v", err, errLoad)
		}
	}
	if err := loader.Close(ctx); err != nil {
		panic(err)
	}
}

func TestBatchedLoadCancel(t *testing.T) {
	touched := int32(0)
	loader, err := NewLoader[int, int]().
		Configure(WithQueueSize(100), WithInterval(Unset)).
		Run(loadMapInt1(&touched))
	if err != nil {
		t.Fatalf("error starting loader: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range 1_000 {
		for _, loading := range loader.LoadAll(ctx, []int{1, 2}) {
			if !loading.IsDone() {
				t.Fatalf("canceled load is pending")
			}
			if _, err := loading.Get(context.Background()); !errors.Is(err, context.Canceled) {
				t.Fatalf("invalid error when canceled %v", err)
			}
		}
	}
	if err := loader.Close(context.Background()); err != nil {
		panic(err)
	}
	if touched != 0 {
		t.Fatalf("touched when every load was canceled")
	}
}

func TestBatchedLoadAfterClose(t *testing.T) {
	touched := int32(0)
	loader, err := NewLoader[int, int]().
		Run(loadMapInt1(&touched))
	if err != nil {
		t.Fatalf("error starting loader: %v", err)
	}
	ctx := context.Background()
	if err := loader.Close(ctx); err != nil {
		panic(err)
	}
	if _, err := loader.Get(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("error is %v != %v", err, ErrClosed)
	}
	// A failed registration does not stick.
	if _, err := loader.Get(ctx, 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("error is %v != %v", err, ErrClosed)
	}
}

func TestBatchedLoadNilContext(t *testing.T) {
	touched := int32(0)
	loader, err := NewLoader[int, int]().
		Configure(WithQueueSize(2), WithInterval(time.Millisecond)).
		Run(loadMapInt1(&touched))
	if err != nil {
		t.Fatalf("error starting loader: %v", err)
	}

	var ctx context.Context
	v, err := loader.Get(ctx, 1)
	if err != nil || v != 1 {
		t.Fatalf("get result is %d, %v", v, err)
	}
	result, err := loader.GetAll(ctx, []int{2, 3})
	if err != nil || len(result) != 2 {
		t.Fatalf("get all result is %v, %v", result, err)
	}
	if err := loader.Close(ctx); err != nil {
		t.Fatalf("error closing loader: %v", err)
	}
}

func TestLoaderValidation(t *testing.T) {
	if _, err := NewLoader[int, int]().Run(nil); err == nil {
		t.Fatalf("loader created without load function")
	}
	var ve *ValidationError
	_, err := NewLoader[int, int]().Configure(WithQueueSize(0)).Run(loadMapInt1(new(int32)))
	if !errors.As(err, &ve) || ve.Field != "queue size" {
		t.Fatalf("error is %v", err)
	}
}

func loadMapInt1(cnt *int32) LoadBatchFn[int, int] {
	return func(keys []int) (map[int]int, error) {
		atomic.AddInt32(cnt, 1)
		res := make(map[int]int, len(keys))
		for _, k := range keys {
			res[k] = 1
		}
		return res, nil
	}
}
