package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-contest/broadcast"
	"github.com/tcriess/lightspeed-contest/config"
	"github.com/tcriess/lightspeed-contest/globals"
	"github.com/tcriess/lightspeed-contest/grading"
	"github.com/tcriess/lightspeed-contest/persistence"
	"github.com/tcriess/lightspeed-contest/room"
	"github.com/tcriess/lightspeed-contest/types"
)

// A very simple CLI tool for the administration of contest rooms, problems and users.

var (
	configPath   = pflag.StringP("config", "c", "", "path to config file or directory")
	messageLimit = pflag.IntP("limit", "n", 50, "maximum number of messages to show")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	store, err := persistence.NewDocumentStore(ctx, globalConfig.PersistenceConfig)
	if err != nil {
		panic(err)
	}
	defer store.Close()
	docs := persistence.NewDocuments(store, globals.AppLogger.Named("persistence"), nil, persistence.RetryOptions{
		MessageAttempts:    globalConfig.RetryConfig.MessageAttempts,
		MembershipAttempts: globalConfig.RetryConfig.MembershipAttempts,
		Delay:              globalConfig.RetryConfig.Delay,
		SettleDelay:        globalConfig.RetryConfig.SettleDelay,
	})
	leaderboards := grading.NewLeaderboards(room.NewStore(0), broadcast.NewFanout(nil, nil), docs,
		globalConfig.LeaderboardConfig.Size, globals.AppLogger.Named("leaderboard"))

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show rooms, contests, submissions, problems or users",
		Long:  `show is for printing the durable state of a room, contest, submission, problem or user.`,
	}
	var cmdShowRoom = &cobra.Command{
		Use:   "room [room code]",
		Short: "Show room",
		Long:  `show room prints the room document with the given code.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			rm, err := docs.GetRoom(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get room", "error", err)
				return
			}
			printJSON(rm)
		},
	}
	var cmdShowContest = &cobra.Command{
		Use:   "contest [room code]",
		Short: "Show contest",
		Long:  `show contest prints the contest of the room with the given code.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			contest, err := docs.GetContest(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get contest", "error", err)
				return
			}
			printJSON(contest)
		},
	}
	var cmdShowLeaderboard = &cobra.Command{
		Use:   "leaderboard [room code]",
		Short: "Show leaderboard",
		Long:  `show leaderboard computes the leaderboard of the room from the stored scores.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			entries, err := leaderboards.Build(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not build leaderboard", "error", err)
				return
			}
			printJSON(entries)
		},
	}
	var cmdShowMessages = &cobra.Command{
		Use:   "messages [room code]",
		Short: "Show chat messages",
		Long:  `show messages prints the most recent chat messages of the room, oldest first.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			msgs, err := docs.ListMessages(ctx, args[0], *messageLimit)
			if err != nil {
				globals.AppLogger.Error("could not get messages", "error", err)
				return
			}
			printJSON(msgs)
		},
	}
	var cmdShowSubmission = &cobra.Command{
		Use:   "submission [submission id]",
		Short: "Show submission",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sub, err := docs.GetSubmission(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get submission", "error", err)
				return
			}
			printJSON(sub)
		},
	}
	var cmdShowProblems = &cobra.Command{
		Use:   "problems",
		Short: "Show problems",
		Long:  `show problems lists the problem catalog including the test cases.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			problems, err := docs.ListProblems(ctx)
			if err != nil {
				globals.AppLogger.Error("could not get problems", "error", err)
				return
			}
			printJSON(problems)
		},
	}
	var cmdShowUser = &cobra.Command{
		Use:   "user [user id]",
		Short: "Show user",
		Long:  `show user prints the profile of the user with the given id.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			user, err := docs.GetUser(ctx, args[0])
			if err != nil {
				globals.AppLogger.Error("could not get user", "error", err)
				return
			}
			printJSON(user)
		},
	}
	var cmdSeed = &cobra.Command{
		Use:   "seed",
		Short: "Seed the problem catalog",
		Long:  `seed writes the demo problems (two-sum, reverse-string) to the problem catalog.`,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			n, err := docs.SeedProblems(ctx)
			if err != nil {
				globals.AppLogger.Error("could not seed problems", "error", err)
				return
			}
			globals.AppLogger.Info("problems seeded", "count", n)
		},
	}
	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update problems",
	}
	var cmdSetProblem = &cobra.Command{
		Use:   "problem [problem definition]",
		Short: "Set problem",
		Long:  `set problem creates or updates a problem. If the problem definition is "-", it is read from STDIN.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var r io.Reader
			if args[0] == "-" {
				r = os.Stdin
			} else {
				r = bytes.NewReader([]byte(args[0]))
			}
			problem := types.Problem{}
			if err := json.NewDecoder(r).Decode(&problem); err != nil {
				globals.AppLogger.Error("could not decode problem", "error", err)
				return
			}
			if problem.Id == "" {
				globals.AppLogger.Error("no problem id")
				return
			}
			if len(problem.TestCases) == 0 {
				globals.AppLogger.Warn("problem has no test cases, submissions cannot be graded")
			}
			if err := docs.SaveProblem(ctx, problem); err != nil {
				globals.AppLogger.Error("could not store problem", "error", err)
			}
		},
	}

	var rootCmd = &cobra.Command{Use: "lightspeed-contest-admin"}
	rootCmd.AddCommand(cmdShow, cmdSeed, cmdSet)
	cmdShow.AddCommand(cmdShowRoom, cmdShowContest, cmdShowLeaderboard, cmdShowMessages, cmdShowSubmission,
		cmdShowProblems, cmdShowUser)
	cmdSet.AddCommand(cmdSetProblem)
	rootCmd.SetArgs(pflag.Args())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		globals.AppLogger.Error("could not marshal result", "error", err)
		return
	}
	fmt.Println(string(out))
}
