package bootstrap

import (
	"context"
	"fmt"

	"github.com/artpar/entitysdk/adapters/hasher"
	"github.com/artpar/entitysdk/core/engine"
	"github.com/artpar/entitysdk/core/events"
	"github.com/artpar/entitysdk/core/plugin"
	"github.com/artpar/entitysdk/core/schema"
	"github.com/artpar/entitysdk/core/validation"
	"github.com/artpar/entitysdk/ports"
	"github.com/rs/zerolog"
)

// RegisterValidationSteps registers preOperation create and update steps,
// for every entity, that reject data not matching the schema. They must be
// registered before any other preOperation step so they see the data as
// preValidation steps left it.
func RegisterValidationSteps(store *plugin.Store) error {
	for _, msg := range []plugin.Message{plugin.MessageCreate, plugin.MessageUpdate} {
		err := store.Register(plugin.Step{
			Name:    fmt.Sprintf("validate:%s", msg),
			Message: msg,
			Stage:   plugin.StagePreOperation,
			Action:  validateData,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func validateData(ctx context.Context, pc *plugin.Context) error {
	var result validation.Result
	if pc.Message == plugin.MessageCreate {
		result = validation.Create(pc.Schema, pc.Data)
	} else {
		result = validation.Update(pc.Schema, pc.Data)
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrBadRequest, err)
	}
	return nil
}

// RegisterSecretSteps registers, for every schema with secret attributes,
// preOperation create and update steps that replace plaintext secrets with
// their hash. The steps only run when a secret attribute changes.
func RegisterSecretSteps(store *plugin.Store, reg ports.SchemaRegistry, h ports.Hasher, logger zerolog.Logger) error {
	for _, s := range reg.GetAllSchema() {
		secrets := s.AttributesOfType(schema.TypeSecret)
		if len(secrets) == 0 {
			continue
		}

		for _, msg := range []plugin.Message{plugin.MessageCreate, plugin.MessageUpdate} {
			err := store.Register(plugin.Step{
				Name:       fmt.Sprintf("hash_secrets:%s.%s", s.LogicalName, msg),
				Entity:     s.LogicalName,
				Message:    msg,
				Stage:      plugin.StagePreOperation,
				Attributes: secrets,
				Action:     hashSecrets(secrets, h, logger),
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func hashSecrets(attrs []string, h ports.Hasher, logger zerolog.Logger) plugin.Action {
	return func(ctx context.Context, pc *plugin.Context) error {
		for _, attr := range attrs {
			plain, ok := pc.Data[attr].(string)
			if !ok || plain == "" || hasher.IsHash([]byte(plain)) {
				continue
			}

			hash, err := h.Hash(plain)
			if err != nil {
				logger.Error().Err(err).Str("entity", pc.Entity).Str("attribute", attr).Msg("failed to hash secret")
				return fmt.Errorf("hash %s.%s: %w", pc.Entity, attr, err)
			}
			pc.Data[attr] = string(hash)
		}
		return nil
	}
}

// RegisterSchemaSteps registers the plugin steps declared in schema files.
// emit steps publish an event after the session commits; log steps write
// an info line.
func RegisterSchemaSteps(store *plugin.Store, reg ports.SchemaRegistry, bus *events.Bus, logger zerolog.Logger) error {
	for _, s := range reg.GetAllSchema() {
		for i, decl := range s.Plugins {
			msg, err := plugin.ParseMessage(decl.Message)
			if err != nil {
				return fmt.Errorf("schema %s plugin %d: %w", s.LogicalName, i, err)
			}
			stage, err := plugin.ParseStage(decl.Stage)
			if err != nil {
				return fmt.Errorf("schema %s plugin %d: %w", s.LogicalName, i, err)
			}

			step := plugin.Step{
				Entity:     s.LogicalName,
				Message:    msg,
				Stage:      stage,
				Attributes: decl.Attributes,
				When:       decl.When,
			}
			switch {
			case decl.Emit != "":
				step.Name = fmt.Sprintf("emit:%s", decl.Emit)
				step.Action = emitAction(bus, decl.Emit)
			default:
				step.Name = fmt.Sprintf("log:%s.%s", s.LogicalName, msg)
				step.Action = logAction(logger, decl.Log)
			}

			if err := store.Register(step); err != nil {
				return fmt.Errorf("schema %s plugin %d: %w", s.LogicalName, i, err)
			}
		}
	}
	return nil
}

func emitAction(bus *events.Bus, name string) plugin.Action {
	return func(ctx context.Context, pc *plugin.Context) error {
		data := pc.Data
		if data == nil {
			data = pc.Snapshot
		}
		events.Emit(ctx, bus, events.Event{
			Name:          name,
			Entity:        pc.Entity,
			Message:       string(pc.Message),
			ID:            pc.ID,
			Data:          data,
			ChangedValues: pc.ChangedValues,
		})
		return nil
	}
}

func logAction(logger zerolog.Logger, msg string) plugin.Action {
	return func(ctx context.Context, pc *plugin.Context) error {
		logger.Info().
			Str("entity", pc.Entity).
			Str("message", string(pc.Message)).
			Str("stage", string(pc.Stage)).
			Str("id", pc.ID).
			Strs("changed", pc.ChangedValues.Keys()).
			Msg(msg)
		return nil
	}
}
