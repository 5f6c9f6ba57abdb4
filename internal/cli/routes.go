package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/access-gate/internal/domain"
	"github.com/spec-kit/access-gate/internal/gate"
	"github.com/spec-kit/access-gate/internal/routes"
)

func loadClassifier(path string) (*routes.Classifier, error) {
	if path == "" {
		path = os.Getenv("ROUTES_FILE")
	}
	cfg, err := routes.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return routes.NewClassifier(cfg)
}

func newRoutesCmd() *cobra.Command {
	var routesFile string

	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the route lists and configuration warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := loadClassifier(routesFile)
			if err != nil {
				return err
			}
			printRoutes(cmd.OutOrStdout(), classifier)
			return nil
		},
	}
	cmd.Flags().StringVar(&routesFile, "routes", "", "Routes YAML file (defaults to $ROUTES_FILE, then built-in routes)")
	return cmd
}

func printRoutes(out io.Writer, classifier *routes.Classifier) {
	cfg := classifier.Config()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LIST\tPATTERNS")
	fmt.Fprintf(w, "public\t%s\n", strings.Join(cfg.Public, " "))
	fmt.Fprintf(w, "protected\t%s\n", strings.Join(cfg.Protected, " "))
	fmt.Fprintf(w, "admin\t%s\n", strings.Join(cfg.Admin, " "))
	w.Flush()

	warnings := classifier.Warnings()
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintln(out, "\nWarnings:")
	for _, warning := range warnings {
		fmt.Fprintf(out, "  - %s\n", warning)
	}
}

func newClassifyCmd() *cobra.Command {
	var (
		routesFile string
		as         string
	)

	cmd := &cobra.Command{
		Use:   "classify <path>...",
		Short: "Classify paths and dry-run the gate decision",
		Long: `Classify paths against the route lists and show what the gate would do
for a caller who is anonymous (--as none), signed in (--as user) or an admin
(--as admin).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classifier, err := loadClassifier(routesFile)
			if err != nil {
				return err
			}
			resolver, err := simulatedCaller(as)
			if err != nil {
				return err
			}
			engine, err := gate.NewEngine(classifier)
			if err != nil {
				return err
			}
			return printDecisions(cmd.Context(), cmd.OutOrStdout(), engine, resolver, args)
		},
	}
	cmd.Flags().StringVar(&routesFile, "routes", "", "Routes YAML file (defaults to $ROUTES_FILE, then built-in routes)")
	cmd.Flags().StringVar(&as, "as", "none", "Simulated caller: none, user or admin")
	return cmd
}

func printDecisions(ctx context.Context, out io.Writer, engine *gate.Engine, resolver gate.Resolver, paths []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tPUBLIC\tPROTECTED\tADMIN\tDECISION\tREASON")
	for _, path := range paths {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("path %q must start with /", path)
		}
		canonical, err := gate.CanonicalPath(path)
		if err != nil {
			return fmt.Errorf("path %q: %w", path, err)
		}
		class := engine.Classifier().Classify(canonical)
		d := engine.Decide(ctx, path, resolver)
		outcome := "allow"
		if !d.Allowed() {
			outcome = "redirect " + d.Location()
		}
		fmt.Fprintf(w, "%s\t%t\t%t\t%t\t%s\t%s\n", path, class.IsPublic, class.IsProtected, class.IsAdmin, outcome, d.Reason)
	}
	return w.Flush()
}

var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// staticCaller answers the gate with a fixed session and role.
type staticCaller struct {
	session *domain.Session
	user    *domain.User
}

func (s staticCaller) GetSession(context.Context) (*domain.Session, error) { return s.session, nil }
func (s staticCaller) GetUser(context.Context) (*domain.User, error)       { return s.user, nil }

func simulatedCaller(as string) (gate.Resolver, error) {
	switch as {
	case "none":
		return staticCaller{}, nil
	case "user", "admin":
		sess := &domain.Session{
			ID:        "dry-run",
			Subject:   "dry-run",
			Provider:  domain.ProviderPassword,
			ExpiresAt: farFuture,
		}
		user := &domain.User{ID: "dry-run", Email: "dry-run@localhost", Metadata: map[string]any{}}
		if as == "admin" {
			user.Metadata[domain.MetadataRole] = "admin"
		}
		return staticCaller{session: sess, user: user}, nil
	default:
		return nil, fmt.Errorf("unknown caller %q: use none, user or admin", as)
	}
}
