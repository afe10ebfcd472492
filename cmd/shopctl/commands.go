package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"ShopAegis/internal/aegconf"
	"ShopAegis/internal/aegobserve"
	"ShopAegis/internal/backend"
	"ShopAegis/internal/core/domain"
	"ShopAegis/internal/datahook"
	"ShopAegis/internal/reqstate"
	"ShopAegis/internal/storeclient"
)

const version = "v0.3.0"

// session 持有一次命令执行期间的存储连接
type session struct {
	configPath string
	verbose    bool

	queries *reqstate.Client
	store   *storeclient.Client
	closer  func()
}

func (s *session) open(cmd *cobra.Command, stderr io.Writer) error {
	cfg, _, err := aegconf.Load(s.configPath)
	if err != nil {
		return err
	}
	level := "WARN"
	if s.verbose {
		level = "DEBUG"
	}
	aegobserve.InitLoggerTo(stderr, level)

	transport, closer, err := backend.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	s.closer = closer
	s.store = storeclient.New(transport)
	s.queries = reqstate.New(reqstate.Config{Retry: cfg.Cache.QueryRetry})
	return nil
}

func (s *session) close() {
	if s.closer != nil {
		s.closer()
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	s := &session{}
	root := &cobra.Command{
		Use:           "shopctl",
		Short:         "ShopAegis 数据访问命令行工具",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&s.configPath, "config", "c", "", "配置文件路径 (默认查找 configs/config.yaml)")
	root.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "输出调试日志")

	root.AddCommand(newQueryCmd(s, stdout, stderr), newMutateCmd(s, stdout, stderr), newVersionCmd(stdout))
	return root
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(stdout, "shopctl", version)
		},
	}
}

func newQueryCmd(s *session, stdout, stderr io.Writer) *cobra.Command {
	var (
		selectCols string
		filters    []string
		orderCol   string
		desc       bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "按描述符读取表数据",
		Example: `  shopctl query products --filter category:eq:snacks --order price --limit 5
  shopctl query products --filter 'id:in:[1,2,3]' --select id,name`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := domain.QueryDescriptor{Table: args[0], Select: selectCols, Limit: limit}
			for _, raw := range filters {
				f, err := parseFilter(raw)
				if err != nil {
					return err
				}
				d.Filters = append(d.Filters, f)
			}
			if orderCol != "" {
				asc := !desc
				d.OrderBy = &domain.Ordering{Column: orderCol, Ascending: &asc}
			}
			if err := d.Validate(); err != nil {
				return err
			}

			if err := s.open(cmd, stderr); err != nil {
				return err
			}
			defer s.close()

			rows, err := datahook.UseQuery[domain.Record](s.queries, s.store, datahook.QueryOptions{Descriptor: d}).Fetch(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(stdout, rows)
		},
	}
	cmd.Flags().StringVar(&selectCols, "select", "", "列投影 (默认 *)")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "过滤条件 column:operator:value，可重复，按出现顺序生效")
	cmd.Flags().StringVar(&orderCol, "order", "", "排序列")
	cmd.Flags().BoolVar(&desc, "desc", false, "降序")
	cmd.Flags().IntVar(&limit, "limit", 0, "最多返回的行数 (0 表示不限制)")
	return cmd
}

func newMutateCmd(s *session, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "mutate <table> <insert|update|delete> <json>",
		Short: "对表执行一次写操作",
		Example: `  shopctl mutate orders update '{"id":42,"status":"shipped"}'
  shopctl mutate products delete '{"id":7}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := domain.ParseMutationKind(args[1])
			if err != nil {
				return err
			}
			payload := domain.Record{}
			if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
				return fmt.Errorf("解析 payload 失败: %w", err)
			}

			if err := s.open(cmd, stderr); err != nil {
				return err
			}
			defer s.close()

			m := datahook.UseMutation[domain.Record](s.queries, s.store, datahook.MutationOptions[domain.Record]{})
			rows, err := m.MutateAsync(cmd.Context(), domain.MutationIntent{Table: args[0], Kind: kind, Payload: payload})
			if err != nil {
				return err
			}
			if rows == nil {
				fmt.Fprintln(stdout, "ok")
				return nil
			}
			return writeJSON(stdout, rows)
		},
	}
}

// parseFilter 解析 column:operator:value。value 能按 JSON 解析时使用解析结果，
// 否则作为字符串；in 的值也可以写成逗号分隔列表。
func parseFilter(raw string) (domain.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 || parts[0] == "" {
		return domain.Filter{}, fmt.Errorf("过滤条件格式应为 column:operator:value, got=%q", raw)
	}
	op, err := domain.ParseOperator(parts[1])
	if err != nil {
		return domain.Filter{}, err
	}

	value := parseValue(parts[2])
	if op == domain.OpIn {
		if _, ok := domain.ListValues(value); !ok {
			items := strings.Split(parts[2], ",")
			list := make([]any, 0, len(items))
			for _, item := range items {
				list = append(list, parseValue(strings.TrimSpace(item)))
			}
			value = list
		}
	}
	return domain.Filter{Column: parts[0], Operator: op, Value: value}, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("输出结果失败: %w", err)
	}
	return nil
}
