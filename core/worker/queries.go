package worker

// SQL for the queue tables and the extension probes. Queue queries are
// qualified with the schema the extension is installed in, so they are
// assembled per worker rather than declared const.

const extensionCheckQuery = `
    SELECT n.nspname AS ext_schema
      FROM pg_catalog.pg_extension e
INNER JOIN pg_catalog.pg_namespace n
        ON n.oid = e.extnamespace
     WHERE e.extname = $1`

const cyanauditCheckQuery = `
    SELECT p.proname::VARCHAR
      FROM pg_proc p
INNER JOIN pg_namespace n
        ON n.oid = p.pronamespace
       AND n.nspname::VARCHAR = 'cyanaudit'
     WHERE p.proname = 'fn_label_transaction'`

const cyanauditLabelQuery = `SELECT cyanaudit.fn_label_last_transaction( $1 )`

const setConfigQuery = `SELECT set_config( $1, $2, TRUE )`

const clearConfigQuery = `SELECT set_config( $1, NULL, TRUE )`

type queries struct {
	getEventItem    string
	deleteEventItem string
	insertWorkItem  string
	getWorkItem     string
	deleteWorkItem  string
	uidFunction     string
	eventDepth      string
	workDepth       string
}

func buildQueries(schema string) queries {
	return queries{
		getEventItem: `
    SELECT eq.event_table_work_item,
           eq.uid,
           eq.recorded,
           eq.pk_value,
           eq.op,
           eq.action,
           eq.transaction_label,
           eq.work_item_query,
           eq.execute_asynchronously::TEXT,
           eq.old,
           eq.new,
           eq.session_values,
           eq.ctid
      FROM ` + schema + `.tb_event_queue eq
  ORDER BY eq.recorded DESC
     LIMIT 1
       FOR UPDATE SKIP LOCKED`,

		deleteEventItem: `
DELETE FROM ` + schema + `.tb_event_queue
      WHERE event_table_work_item = $1::INTEGER
        AND uid IS NOT DISTINCT FROM $2::INTEGER
        AND recorded = $3::TIMESTAMP
        AND pk_value = $4::INTEGER
        AND op = $5::CHAR(1)
        AND old::TEXT IS NOT DISTINCT FROM $6::JSONB::TEXT
        AND new::TEXT IS NOT DISTINCT FROM $7::JSONB::TEXT
        AND session_values::TEXT IS NOT DISTINCT FROM $8::JSONB::TEXT
        AND ctid = $9::TID`,

		insertWorkItem: `
INSERT INTO ` + schema + `.tb_work_queue
            (
                parameters,
                uid,
                recorded,
                transaction_label,
                action,
                execute_asynchronously,
                session_values
            )
     VALUES
            (
                $1::JSONB,
                NULLIF( $2, '' )::INTEGER,
                COALESCE( NULLIF( $3, '' )::TIMESTAMP, clock_timestamp() ),
                NULLIF( $4, '' )::VARCHAR,
                NULLIF( $5, '' )::INTEGER,
                NULLIF( $6, '' )::BOOLEAN,
                NULLIF( $7, '' )::JSONB
            )`,

		// lock only the queue row: a locked tb_action row would make
		// rivals skip every work item sharing the action
		getWorkItem: `
    SELECT wq.parameters,
           wq.uid,
           wq.recorded,
           wq.transaction_label,
           wq.action,
           wq.session_values,
           wq.ctid,
           a.query,
           REPLACE(
               a.uri,
               '__BASE_URL__',
               COALESCE(
                   wq.session_values->>'base_url',
                   current_setting( '` + schema + `.base_url', TRUE ),
                   ''
               )
           ) AS uri,
           COALESCE( a.method, 'GET' ) AS method,
           COALESCE( a.use_ssl, FALSE ) AS use_ssl,
           a.static_parameters
      FROM ` + schema + `.tb_work_queue wq
INNER JOIN ` + schema + `.tb_action a
        ON a.action = wq.action
  ORDER BY wq.recorded DESC
     LIMIT 1
       FOR UPDATE OF wq SKIP LOCKED`,

		deleteWorkItem: `
DELETE FROM ` + schema + `.tb_work_queue
      WHERE parameters::TEXT IS NOT DISTINCT FROM $1::JSONB::TEXT
        AND uid IS NOT DISTINCT FROM $2::INTEGER
        AND recorded = $3::TIMESTAMP
        AND transaction_label IS NOT DISTINCT FROM $4::VARCHAR
        AND action = $5::INTEGER
        AND session_values::TEXT IS NOT DISTINCT FROM $6::JSONB::TEXT
        AND ctid = $7::TID`,

		uidFunction: `
    SELECT current_setting(
               '` + schema + `.' || $1::VARCHAR,
               TRUE
           ) AS uid_function`,

		eventDepth: `SELECT COUNT(*) FROM ` + schema + `.tb_event_queue`,
		workDepth:  `SELECT COUNT(*) FROM ` + schema + `.tb_work_queue`,
	}
}
