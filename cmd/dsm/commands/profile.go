package commands

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/mosaicnetworks/dsm/src/config"
	"github.com/mosaicnetworks/dsm/src/profile"
	"github.com/spf13/cobra"
)

//NewProfileCmd returns the command that prints the fault profile of a
//running node
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the page fault profile of a running node",
		RunE:  showProfile,
	}

	cmd.Flags().StringP("service-listen", "s", config.DefaultServiceAddr, "Address of the node's HTTP service")
	cmd.Flags().Int("top", profile.DefaultTopN, "Number of pages listed")
	cmd.Flags().Bool("reset", false, "Clear the profile after reading it")

	return cmd
}

func showProfile(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("service-listen")
	top, _ := cmd.Flags().GetInt("top")
	reset, _ := cmd.Flags().GetBool("reset")

	client := &http.Client{Timeout: 5 * time.Second}
	base := fmt.Sprintf("http://%s", addr)

	resp, err := client.Get(fmt.Sprintf("%s/profile?top=%d", base, top))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /profile: %s", resp.Status)
	}

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rep profile.Report
	if err := rep.Unmarshal(body); err != nil {
		return err
	}

	rep.Log(_config.DSM.Logger())

	if reset {
		r, err := client.Post(base+"/profile/reset", "application/json", nil)
		if err != nil {
			return err
		}
		r.Body.Close()

		if r.StatusCode != http.StatusNoContent {
			return fmt.Errorf("POST /profile/reset: %s", r.Status)
		}
	}

	return nil
}
