package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newStatsCmd inspects the coordinator indices: total bytes, key count,
// the oldest and newest entries in the access-time order, a sample of
// recorded sizes, and any live write locks. All of it uses plain Redis
// reads; these index keys are supported operator surfaces.
func newStatsCmd() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print coordinator-side cache statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := openCache(ctx)
			if err != nil {
				return err
			}
			defer c.Close()

			rdb := redis.NewClient(&redis.Options{
				Addr: viper.GetString("redis-addr"),
				DB:   viper.GetInt("redis-db"),
			})
			defer rdb.Close()

			idx := c.Index()
			total, err := idx.TotalBytes(ctx)
			if err != nil {
				return err
			}
			nkeys, err := rdb.SCard(ctx, idx.KeysSetKey()).Result()
			if err != nil {
				return err
			}
			fmt.Printf("namespace   %s\n", c.Namespace())
			fmt.Printf("total_bytes %d\n", total)
			fmt.Printf("keys        %d\n", nkeys)
			if capacity := viper.GetInt64("max-bytes"); capacity > 0 {
				fmt.Printf("capacity    %d\n", capacity)
			}

			if err := printLRU(ctx, rdb, idx.LRUKey(), top); err != nil {
				return err
			}
			if err := printSizes(ctx, rdb, idx.SizesKey(), top); err != nil {
				return err
			}
			return printWriteLocks(ctx, rdb, c.Namespace(), top)
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "entries to show per section")
	return cmd
}

func printLRU(ctx context.Context, rdb *redis.Client, lruKey string, top int) error {
	oldest, err := rdb.ZRangeWithScores(ctx, lruKey, 0, int64(top-1)).Result()
	if err != nil {
		return err
	}
	fmt.Println("lru.oldest:")
	for _, z := range oldest {
		fmt.Printf("  %v @ %s\n", z.Member, msToTime(z.Score))
	}

	newest, err := rdb.ZRevRangeWithScores(ctx, lruKey, 0, int64(top-1)).Result()
	if err != nil {
		return err
	}
	fmt.Println("lru.newest:")
	for _, z := range newest {
		fmt.Printf("  %v @ %s\n", z.Member, msToTime(z.Score))
	}
	return nil
}

func printSizes(ctx context.Context, rdb *redis.Client, sizesKey string, top int) error {
	n, err := rdb.HLen(ctx, sizesKey).Result()
	if err != nil {
		return err
	}
	fmt.Printf("sizes.count %d\n", n)

	var cursor uint64
	shown := 0
	for shown < top {
		kv, next, err := rdb.HScan(ctx, sizesKey, cursor, "", int64(top*2)).Result()
		if err != nil {
			return err
		}
		for i := 0; i+1 < len(kv) && shown < top; i += 2 {
			fmt.Printf("  size[%s]=%s\n", kv[i], kv[i+1])
			shown++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func printWriteLocks(ctx context.Context, rdb *redis.Client, ns string, top int) error {
	fmt.Println("write_locks:")
	var cursor uint64
	shown := 0
	pattern := ns + ":lock:write:*"
	for shown < top {
		keys, next, err := rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		for _, k := range keys {
			if shown >= top {
				break
			}
			token, err := rdb.Get(ctx, k).Result()
			if err != nil {
				continue // lock expired between SCAN and GET
			}
			fmt.Printf("  %s token=%s\n", k, token)
			shown++
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func msToTime(score float64) string {
	return time.UnixMilli(int64(score)).Format(time.RFC3339)
}
