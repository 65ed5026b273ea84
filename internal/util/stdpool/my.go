// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package stdpool

import (
	"database/sql"
	sqldriver "database/sql/driver"
	"time"

	"github.com/cockroachdb/stream-tables/internal/types"
	"github.com/cockroachdb/stream-tables/internal/util/stopper"
	_ "github.com/go-sql-driver/mysql" // register driver, for database/sql storage targets
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" database/sql driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// OpenStoragePool opens a database/sql connection to the database
// hosting stream tables' storage tables, for use by the refresh
// executor's explicit-DML apply path (spec.md §4.3), which needs plain
// database/sql semantics so that BEFORE/AFTER triggers on the storage
// table observe ordinary statement execution. driverName is either
// "pgx" or "mysql".
func OpenStoragePool(
	ctx *stopper.Context, driverName, connectString string, options ...Option,
) (*types.StoragePool, error) {
	var tc TestControls
	if err := attachOptions(ctx, &tc, options); err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, connectString)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ret := &types.StoragePool{
		DB: db,
		PoolInfo: types.PoolInfo{
			ConnectionString: connectString,
		},
	}

	ctx.Go(func() error {
		<-ctx.Stopping()
		if err := ret.Close(); err != nil {
			log.WithError(errors.WithStack(err)).Warn("could not close database connection")
		}
		return nil
	})

ping:
	if err := ret.Ping(); err != nil {
		if tc.WaitForStartup && isMySQLStartupError(err) {
			log.WithError(err).Info("waiting for database to become ready")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				goto ping
			}
		}
		return nil, errors.Wrap(err, "could not ping the database")
	}

	if err := ret.QueryRow("SELECT VERSION()").Scan(&ret.Version); err != nil {
		return nil, errors.Wrap(err, "could not query version")
	}
	log.Infof("storage pool connected: %s", ret.Version)

	if err := attachOptions(ctx, &ret.PoolInfo, options); err != nil {
		return nil, err
	}

	return ret, nil
}

func isMySQLStartupError(err error) bool {
	switch err {
	case sqldriver.ErrBadConn:
		return true
	default:
		return false
	}
}
