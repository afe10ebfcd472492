package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ShopAegis/internal/aegconf"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	testCases := []struct {
		name     string
		cfg      aegconf.StoreConfig
		wantType string
		wantErr  bool
	}{
		{
			name:     "postgrest",
			cfg:      aegconf.StoreConfig{Backend: aegconf.BackendPostgREST, PostgREST: aegconf.PostgRESTConfig{URL: "http://localhost:54321", AnonKey: "anon"}},
			wantType: "postgrest",
		},
		{
			name:    "postgrest 缺少 URL",
			cfg:     aegconf.StoreConfig{Backend: aegconf.BackendPostgREST},
			wantErr: true,
		},
		{
			name:     "sqlite 自动创建目录",
			cfg:      func() aegconf.StoreConfig { c := aegconf.StoreConfig{Backend: aegconf.BackendSQLite}; c.SQLite.Path = filepath.Join(dir, "nested", "shop.db"); return c }(),
			wantType: "sqlite",
		},
		{
			name:     "grpc 延迟连接",
			cfg:      func() aegconf.StoreConfig { c := aegconf.StoreConfig{Backend: aegconf.BackendGRPC}; c.GRPC.Address = "127.0.0.1:1"; return c }(),
			wantType: "grpc",
		},
		{
			name:    "未知后端",
			cfg:     aegconf.StoreConfig{Backend: "mongo"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr, closer, err := Open(context.Background(), tc.cfg)
			require.NotNil(t, closer)
			defer closer()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, tr.Type())
		})
	}
}
