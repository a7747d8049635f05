package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/palisade/authz"
)

var adminsCmd = &cobra.Command{
	Use:   "admins",
	Short: "Manage admin groups and their access rules",
}

// changeruleCmd edits one access rule on a group. Called without arguments
// it lists the available groups and rule states instead of failing.
var changeruleCmd = &cobra.Command{
	Use:   "changerule [group] [resource] [rule] [recursive]",
	Short: "Change an access rule on an admin group",
	Long: `Sets one access rule on an admin group. The rule state is one of
NOT_USED, ALLOW or DENY; NOT_USED removes the rule for that resource.
Run without arguments to list the available groups and rule states.`,
	Args: cobra.MaximumNArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return printRuleChoices(cmd)
		}
		if len(args) < 4 {
			return fmt.Errorf("expected <group> <resource> <rule> <recursive>, got %d arguments", len(args))
		}
		group, resource := args[0], args[1]
		state, err := authz.ParseRuleState(args[2])
		if err != nil {
			return err
		}
		recursive, err := strconv.ParseBool(args[3])
		if err != nil {
			return fmt.Errorf("recursive must be true or false: %w", err)
		}

		body := struct {
			Rules []authz.AccessRule `json:"rules"`
		}{Rules: []authz.AccessRule{{Resource: resource, State: state, Recursive: recursive}}}
		if err := callAPI(cmd.Context(), "PUT", "/admin/groups/"+group+"/rules", body, nil); err != nil {
			return err
		}
		fmt.Printf("Rule on %s for group %s set to %s (recursive=%t)\n", resource, group, state, recursive)
		return nil
	},
}

var listrulesCmd = &cobra.Command{
	Use:   "listrules <group>",
	Short: "List the access rules of a group visible to you",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Rules []authz.AccessRule `json:"rules"`
		}
		if err := callAPI(cmd.Context(), "GET", "/admin/groups/"+args[0]+"/rules", nil, &resp); err != nil {
			return err
		}
		if len(resp.Rules) == 0 {
			fmt.Println("No rules visible.")
			return nil
		}
		for _, rule := range resp.Rules {
			fmt.Printf("%-40s %-8s recursive=%t\n", rule.Resource, rule.State, rule.Recursive)
		}
		return nil
	},
}

func printRuleChoices(cmd *cobra.Command) error {
	var groups struct {
		Groups []string `json:"groups"`
	}
	if err := callAPI(cmd.Context(), "GET", "/admin/groups", nil, &groups); err != nil {
		return err
	}
	fmt.Println("Usage: palisade admins changerule <group> <resource> <rule> <recursive>")
	fmt.Printf("Available groups: %s\n", strings.Join(groups.Groups, ", "))
	fmt.Printf("Available rules:  %s\n", strings.Join(authz.RuleStateTexts, ", "))
	return nil
}

func init() {
	rootCmd.AddCommand(adminsCmd)
	adminsCmd.AddCommand(changeruleCmd)
	adminsCmd.AddCommand(listrulesCmd)
}
