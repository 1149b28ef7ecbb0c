// cmd/libctl/commands.go
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"librarium/internal/catalog"
	"librarium/internal/clients"
)

const serverEnvVar = "LIBCTL_SERVER"

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		server  string
		timeout time.Duration
	)

	root := &cobra.Command{
		Use:          "libctl",
		Short:        "Command line client for the librarium server",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	defaultServer := os.Getenv(serverEnvVar)
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&server, "server", defaultServer, "server base URL (env "+serverEnvVar+")")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	client := func() *clients.APIClient {
		return clients.NewAPIClient(server, clients.Options{Timeout: timeout})
	}

	root.AddCommand(
		newRecommendCmd(client),
		newBorrowCmd(client),
		newReturnCmd(client),
		newLoansCmd(client),
	)
	return root
}

func newRecommendCmd(client func() *clients.APIClient) *cobra.Command {
	var perCategory int
	var categorized bool

	cmd := &cobra.Command{
		Use:   "recommend <username>",
		Short: "Show book recommendations for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if categorized {
				cats, err := client().Categories(cmd.Context(), args[0], perCategory)
				if err != nil {
					return err
				}
				printBooks(out, "Same author and publisher", cats.SameAuthorAndPublisher)
				printBooks(out, "Same author", cats.SameAuthor)
				printBooks(out, "Same publisher", cats.SamePublisher)
				printBooks(out, "Similar rating", cats.SimilarRating)
				return nil
			}

			res, err := client().Recommend(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Recommendations for %s (%s)\n", res.Username, res.Mode)
			if p := res.Profile; p != nil {
				fmt.Fprintf(out, "Authors: %s\n", orNone(p.KnownAuthors))
				fmt.Fprintf(out, "Publishers: %s\n", orNone(p.KnownPublishers))
				fmt.Fprintf(out, "Preferred rating: %.1f  Books borrowed: %d\n", p.AverageEnjoyedRating, p.TotalRead)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIER\tRATING\tTITLE\tAUTHORS")
			for _, b := range res.Books {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\n", b.Book.BookID, b.Tier, rating(b.Book), b.Book.Title, b.Book.Authors)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&categorized, "categories", false, "group recommendations by match kind")
	cmd.Flags().IntVar(&perCategory, "limit", 10, "books per category with --categories")
	return cmd
}

func newBorrowCmd(client func() *clients.APIClient) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow <username> <bookID>",
		Short: "Borrow a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid book ID %q", args[1])
			}
			loan, err := client().Borrow(cmd.Context(), args[0], bookID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s borrowed book %d, due %s\n",
				loan.Username, loan.BookID, loan.DueDate.Format("2006-01-02"))
			return nil
		},
	}
}

func newReturnCmd(client func() *clients.APIClient) *cobra.Command {
	var userRating string

	cmd := &cobra.Command{
		Use:   "return <bookID>",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bookID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid book ID %q", args[0])
			}
			loan, err := client().Return(cmd.Context(), bookID, userRating)
			if err != nil {
				return err
			}
			msg := fmt.Sprintf("book %d returned", loan.BookID)
			if loan.UserRating != nil {
				msg += fmt.Sprintf(" with rating %.1f", *loan.UserRating)
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&userRating, "rating", "", "your rating from 0 to 5")
	return cmd
}

func newLoansCmd(client func() *clients.APIClient) *cobra.Command {
	return &cobra.Command{
		Use:   "loans",
		Short: "List active loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loans, err := client().ActiveLoans(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "BOOK\tUSER\tBORROWED\tDUE\tTITLE")
			for _, l := range loans {
				title := ""
				if l.Book != nil {
					title = l.Book.Title
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", l.BookID, l.Username,
					l.BorrowedDate.Format("2006-01-02"), l.DueDate.Format("2006-01-02"), title)
			}
			return tw.Flush()
		},
	}
}

func printBooks(out io.Writer, heading string, books []*catalog.Book) {
	fmt.Fprintf(out, "%s:\n", heading)
	if len(books) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, b := range books {
		fmt.Fprintf(out, "  %d  %s  %s  %s\n", b.BookID, rating(b), b.Title, b.Authors)
	}
}

func rating(b *catalog.Book) string {
	if r, ok := b.Rating(); ok {
		return strconv.FormatFloat(r, 'f', 2, 64)
	}
	return "-"
}

func orNone(names []string) string {
	if len(names) == 0 {
		return "none yet"
	}
	return strings.Join(names, ", ")
}
