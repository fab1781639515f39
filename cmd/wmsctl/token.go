package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/wms_backend/config"
	"github.com/mmdatafocus/wms_backend/models"
	"github.com/mmdatafocus/wms_backend/utils"
	"github.com/spf13/cobra"
)

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue API credentials for a user",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "jwt <username>",
		Short: "Print a bearer JWT for the user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := activeUser(opts, args[0])
			if err != nil {
				return err
			}
			token, err := utils.JwtGenerate(user.ID, user.Username, string(user.Role))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	})

	var ttl time.Duration
	session := &cobra.Command{
		Use:   "session <username>",
		Short: "Register a handheld session token in redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := activeUser(opts, args[0])
			if err != nil {
				return err
			}
			config.ConnectRedisWithRetry(cmd.Context())
			rdb := config.GetRedisDB()
			if rdb == nil {
				return errors.New("redis not available")
			}
			token := uuid.NewString()
			if err := rdb.Set(cmd.Context(), "Token:"+token, user.Username, ttl).Err(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	session.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "session lifetime")
	cmd.AddCommand(session)
	return cmd
}

func activeUser(opts *RootOptions, username string) (*models.User, error) {
	db, err := opts.openDB()
	if err != nil {
		return nil, err
	}
	user, err := models.FindUserByUsername(db, username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.IsActive {
		return nil, fmt.Errorf("no active user %q", username)
	}
	return user, nil
}
