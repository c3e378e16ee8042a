package plugin

import (
	"context"
	"fmt"
)

// Decoders is a global map of FrameDecoder plugins.
var Decoders = map[string]func() FrameDecoder{
	"kv": func() FrameDecoder {
		return NewKVFrameDecoder()
	},
	"json": func() FrameDecoder {
		return NewJSONFrameDecoder()
	},
}

func DecoderLookup(name string) (FrameDecoder, error) {
	factory, ok := Decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown decoder: %s", name)
	}
	return factory(), nil
}

// Stores is a global map of CounterStore backends, opened from a DSN.
var Stores = map[string]func(ctx context.Context, dsn string) (CounterStore, error){
	"memory": func(context.Context, string) (CounterStore, error) {
		return NewMemoryStore(), nil
	},
	"badger": func(_ context.Context, dsn string) (CounterStore, error) {
		return storeOrNil(NewBadgerStore(dsn))
	},
	"sqlite": func(_ context.Context, dsn string) (CounterStore, error) {
		return storeOrNil(NewSQLiteStore(dsn))
	},
	"postgres": func(ctx context.Context, dsn string) (CounterStore, error) {
		return storeOrNil(OpenPostgresStore(ctx, dsn))
	},
	"redis": func(ctx context.Context, dsn string) (CounterStore, error) {
		return storeOrNil(NewRedisStore(ctx, dsn))
	},
}

func OpenStore(ctx context.Context, kind, dsn string) (CounterStore, error) {
	open, ok := Stores[kind]
	if !ok {
		return nil, fmt.Errorf("unknown store: %s", kind)
	}
	return open(ctx, dsn)
}

// storeOrNil keeps a failed constructor from returning a typed nil interface
func storeOrNil[S CounterStore](s S, err error) (CounterStore, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
