package fabric

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	store "github.com/neuroerp/fabric"
	"github.com/neuroerp/fabric/pkg/types"
)

var (
	queryType    string
	queryFilters []string
	queryLimit   int
	queryOffset  int
)

var queryCmd = &cobra.Command{
	Use:   "query <snapshot>",
	Short: "Query nodes in a snapshot file by type and property equality",
	Long: `Query loads a snapshot and runs an equality query against it.

Filters are key=value pairs matched against scalar properties, ANDed
together. Values are matched as strings; prefix a value with num: or bool:
to match numbers or booleans.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, eventBus, err := loadSnapshot(args[0])
		if err != nil {
			return err
		}
		defer eventBus.Stop(false, time.Second)

		filters, err := parseFilters(queryFilters)
		if err != nil {
			return err
		}

		nodes := f.QueryNodes(store.QueryOptions{
			Type:    queryType,
			Filters: filters,
			Limit:   queryLimit,
			Offset:  queryOffset,
		})

		records := make([]map[string]any, 0, len(nodes))
		for _, node := range nodes {
			records = append(records, map[string]any{
				"id":         node.ID,
				"node_type":  node.Type,
				"properties": node.Properties.ToAny(),
			})
		}
		out, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryType, "type", "", "node type to match")
	queryCmd.Flags().StringArrayVar(&queryFilters, "filter", nil, "property filter key=value (repeatable)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 100, "maximum number of results")
	queryCmd.Flags().IntVar(&queryOffset, "offset", 0, "results to skip")
	rootCmd.AddCommand(queryCmd)
}

func parseFilters(raw []string) (types.Properties, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	filters := types.Properties{}
	for _, item := range raw {
		key, value, found := strings.Cut(item, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", item)
		}
		switch {
		case strings.HasPrefix(value, "num:"):
			var f float64
			if _, err := fmt.Sscanf(strings.TrimPrefix(value, "num:"), "%g", &f); err != nil {
				return nil, fmt.Errorf("invalid numeric filter %q: %w", item, err)
			}
			filters[key] = types.NumberValue(f)
		case value == "bool:true":
			filters[key] = types.BoolValue(true)
		case value == "bool:false":
			filters[key] = types.BoolValue(false)
		default:
			filters[key] = types.StringValue(value)
		}
	}
	return filters, nil
}
