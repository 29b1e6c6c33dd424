package schema

import (
	"context"
	"fmt"
	"strings"

	pg "github.com/edgeflare/radmin/pkg/pgx"
)

// PostgresSource describes tables from information_schema. Namespace maps to
// the Postgres schema, name to the table.
type PostgresSource struct {
	conn pg.Querier
}

// NewPostgresSource returns a Source reading from conn.
func NewPostgresSource(conn pg.Querier) *PostgresSource {
	return &PostgresSource{conn: conn}
}

type column struct {
	name       string
	dataType   string
	udtName    string
	nullable   bool
	hasDefault bool
	primaryKey bool
	unique     bool
}

type foreignKey struct {
	column           string
	referencedSchema string
	referencedTable  string
	referencedColumn string
}

// Load implements Source.
func (s *PostgresSource) Load(ctx context.Context, namespace, name string) (*EntityDescriptor, error) {
	if isSystem(namespace) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key(namespace, name))
	}

	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'
		)`, namespace, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("lookup table: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, key(namespace, name))
	}

	cols, err := queryColumns(ctx, s.conn, namespace, name)
	if err != nil {
		return nil, fmt.Errorf("query columns %s.%s: %w", namespace, name, err)
	}
	fkeys, err := queryForeignKeys(ctx, s.conn, namespace, name)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys %s.%s: %w", namespace, name, err)
	}

	byColumn := make(map[string]foreignKey, len(fkeys))
	for _, fk := range fkeys {
		byColumn[fk.column] = fk
	}

	fields := make([]FieldDescriptor, 0, len(cols))
	for _, c := range cols {
		f := FieldDescriptor{
			Name:       c.name,
			Type:       scalarType(c.dataType, c.udtName),
			DBType:     c.udtName,
			PrimaryKey: c.primaryKey,
			Nullable:   c.nullable,
			Blank:      c.hasDefault,
			Unique:     c.unique || c.primaryKey,
		}
		if fk, ok := byColumn[c.name]; ok {
			f.IsRelation = true
			f.Related = &EntityRef{Namespace: fk.referencedSchema, Name: fk.referencedTable}
			f.RelatedField = fk.referencedColumn
		}
		fields = append(fields, f)
	}
	return NewEntity(namespace, name, name, fields)
}

// List implements Source.
func (s *PostgresSource) List(ctx context.Context) ([]EntityRef, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		ORDER BY table_schema, table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []EntityRef
	for rows.Next() {
		var ref EntityRef
		if err := rows.Scan(&ref.Namespace, &ref.Name); err != nil {
			return nil, err
		}
		if isSystem(ref.Namespace) {
			continue
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func queryColumns(ctx context.Context, conn pg.Querier, schema, table string) ([]column, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.udt_name,
			c.is_nullable = 'YES',
			c.column_default IS NOT NULL OR c.is_identity = 'YES',
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'PRIMARY KEY'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_primary_key,
			EXISTS (
				SELECT 1 FROM information_schema.table_constraints tc
				JOIN information_schema.key_column_usage kcu
					ON tc.constraint_name = kcu.constraint_name
					AND tc.table_schema = kcu.table_schema
				WHERE tc.constraint_type = 'UNIQUE'
					AND tc.table_schema = $1
					AND tc.table_name = $2
					AND kcu.column_name = c.column_name
			) AS is_unique
		FROM information_schema.columns c
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.name, &c.dataType, &c.udtName, &c.nullable, &c.hasDefault, &c.primaryKey, &c.unique); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func queryForeignKeys(ctx context.Context, conn pg.Querier, schema, table string) ([]foreignKey, error) {
	rows, err := conn.Query(ctx, `
		SELECT
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.constraint_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position`, schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fkeys []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.column, &fk.referencedSchema, &fk.referencedTable, &fk.referencedColumn); err != nil {
			return nil, err
		}
		fkeys = append(fkeys, fk)
	}
	return fkeys, rows.Err()
}

// scalarType maps information_schema data types onto ScalarType.
func scalarType(dataType, udtName string) ScalarType {
	switch strings.ToLower(dataType) {
	case "smallint", "integer", "bigint":
		return TypeInteger
	case "real", "double precision", "numeric":
		return TypeFloat
	case "boolean":
		return TypeBoolean
	case "uuid":
		return TypeUUID
	case "date":
		return TypeDate
	case "timestamp without time zone", "timestamp with time zone":
		return TypeDateTime
	case "json", "jsonb":
		return TypeJSON
	case "array":
		return TypeArray
	case "user-defined":
		if udtName == "citext" {
			return TypeText
		}
		return TypeJSON
	}
	return TypeText
}

func isSystem(schema string) bool {
	switch schema {
	case "information_schema", "pg_catalog", "pg_toast":
		return true
	}
	return strings.HasPrefix(schema, "pg_temp_") || strings.HasPrefix(schema, "pg_toast_temp_")
}
