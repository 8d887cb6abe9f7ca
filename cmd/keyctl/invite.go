package main

import (
	"fmt"
	"log/slog"
	"time"

	"channelkeys/internal/invite"
	"channelkeys/internal/keyscope"
	"channelkeys/internal/keywrap"
	"channelkeys/internal/service"
	"channelkeys/internal/store"

	"github.com/spf13/cobra"
)

var (
	inviteScope     string
	inviteSingleUse bool
	inviteTTL       time.Duration
	inviteLabel     string
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Share a key through a one-time or multi-use invite code",
}

var inviteCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Wrap a key you hold to a fresh invite code",
	Long: `The scope is "community", "team" or "channel:<id>". The printed code is the
only way to open the invite; it is not stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		scope, err := keyscope.Parse(inviteScope)
		if err != nil {
			return err
		}
		id, err := loadIdentity()
		if err != nil {
			return err
		}
		st, closeStore, err := openTenant(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		key, err := heldKey(cmd, st, scope, id)
		if err != nil {
			return err
		}
		invites := invite.New(invite.WithLogger(slog.Default()), invite.WithDefaultTTL(cfg.InviteDefaultTTL))
		code, inv, err := invites.Create(ctx, st, id, key, invite.Options{
			Scope:     scope,
			SingleUse: inviteSingleUse,
			TTL:       inviteTTL,
			Label:     inviteLabel,
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"id":         inv.ID,
			"code":       code,
			"scope":      scope.String(),
			"single_use": inv.SingleUse,
			"expires_at": inv.ExpiresAt,
		})
	},
}

var inviteRedeemCmd = &cobra.Command{
	Use:   "redeem <code>",
	Short: "Redeem an invite code with your identity",
	Long: `Community and team keys are opened and stored as your own wrapped copy.
Channel invites file a key request that any current holder can fulfill.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := loadIdentity()
		if err != nil {
			return err
		}
		st, closeStore, err := openTenant(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		invites := invite.New(invite.WithLogger(slog.Default()))
		inv, err := invites.Redeem(ctx, st, args[0], id.PublicID())
		if err != nil {
			return err
		}
		scope, err := keyscope.Parse(inv.Scope)
		if err != nil {
			return err
		}

		if scope.Kind == keyscope.KindChannel {
			hash := inv.CodeHash
			req, err := service.New(service.WithLogger(slog.Default())).RequestKey(ctx, st, service.KeyRequestInput{
				ChannelID:       scope.ChannelID,
				Requester:       id.PublicID(),
				RequesterPubkey: id.PublicID(),
				Target:          inv.IssuerIdentity,
				InviteCodeHash:  &hash,
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"scope": scope.String(), "request": req.ID, "status": req.Status})
		}

		key, err := invite.Open(args[0], inv)
		if err != nil {
			return err
		}
		blob, err := keywrap.WrapKey(id, id.PublicID(), key)
		if err != nil {
			return err
		}
		if err := st.Secrets(scope).Put(ctx, store.WrappedSecret{
			Recipient:  id.PublicID(),
			Ciphertext: blob,
			WrappedBy:  id.PublicID(),
		}); err != nil {
			return err
		}
		return printJSON(map[string]any{"scope": scope.String(), "stored": true})
	},
}

// heldKey unwraps the caller's copy of the key for scope. Channel keys are
// taken at the latest version.
func heldKey(cmd *cobra.Command, st *store.Store, scope keyscope.Scope, id *keywrap.Identity) ([]byte, error) {
	ctx := cmd.Context()
	if scope.Kind == keyscope.KindChannel {
		row, err := service.New().ChannelKey(ctx, st, id.PublicID(), scope.ChannelID, 0)
		if err != nil {
			return nil, err
		}
		return keywrap.UnwrapKey(id, row.Ciphertext)
	}
	sec, err := st.Secrets(scope).Get(ctx, id.PublicID(), 0)
	if err != nil {
		return nil, fmt.Errorf("no %s key held by %s: %w", scope, id.PublicID(), err)
	}
	return keywrap.UnwrapKey(id, sec.Ciphertext)
}

func init() {
	inviteCreateCmd.Flags().StringVar(&inviteScope, "scope", "community", `key to share: "community", "team" or "channel:<id>"`)
	inviteCreateCmd.Flags().BoolVar(&inviteSingleUse, "single-use", false, "allow one redemption only")
	inviteCreateCmd.Flags().DurationVar(&inviteTTL, "ttl", 0, "lifetime of the code (default INVITE_DEFAULT_TTL)")
	inviteCreateCmd.Flags().StringVar(&inviteLabel, "label", "", "free-form note shown in listings")
	inviteCmd.AddCommand(inviteCreateCmd, inviteRedeemCmd)
}
